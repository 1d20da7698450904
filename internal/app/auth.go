package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"strconv"

	"riverchain/internal/codec"
	"riverchain/internal/state"
)

const txAuthDomainV0 = "riverchain/tx/v0"

func txAuthSignBytesV0(typ string, value []byte, nonce string, signer string) []byte {
	// signBytes = DOMAIN || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || sha256(value)
	sum := sha256.Sum256(value)
	out := make([]byte, 0, len(txAuthDomainV0)+1+len(typ)+1+len(nonce)+1+len(signer)+1+sha256.Size)
	out = append(out, []byte(txAuthDomainV0)...)
	out = append(out, 0)
	out = append(out, []byte(typ)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	out = append(out, 0)
	out = append(out, []byte(signer)...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return out
}

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return fmt.Errorf("missing tx.nonce")
	}
	if env.Signer == "" {
		return fmt.Errorf("missing tx.signer")
	}
	if len(env.Sig) == 0 {
		return fmt.Errorf("missing tx.sig")
	}
	if len(env.Sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid tx.sig length: got %d want %d", len(env.Sig), ed25519.SignatureSize)
	}
	return nil
}

// consumeNonce enforces strictly increasing numeric nonces per signer.
func consumeNonce(st *state.State, signer string, nonce string) error {
	n, err := strconv.ParseUint(nonce, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid tx.nonce: %q", nonce)
	}
	if n <= st.NonceMax[signer] {
		return fmt.Errorf("replayed tx.nonce: %d <= %d", n, st.NonceMax[signer])
	}
	st.NonceMax[signer] = n
	return nil
}

func requireRegisterAccountAuth(st *state.State, env codec.TxEnvelope, msg codec.AuthRegisterAccountTx) error {
	if msg.Account == "" {
		return fmt.Errorf("missing account")
	}
	if len(msg.PubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("pubKey must be %d bytes", ed25519.PublicKeySize)
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != msg.Account {
		return fmt.Errorf("tx signer mismatch: signer=%q want=%q", env.Signer, msg.Account)
	}
	pub := ed25519.PublicKey(msg.PubKey)
	msgBytes := txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(pub, msgBytes, env.Sig) {
		return fmt.Errorf("invalid signature")
	}
	return consumeNonce(st, env.Signer, env.Nonce)
}

// requireActorAuth verifies the envelope signature when the acting account
// has a registered pubkey. Unregistered accounts run unauthenticated, which
// keeps devnets usable while letting any player opt into signing.
func requireActorAuth(st *state.State, env codec.TxEnvelope, actor string) error {
	if actor == "" {
		return fmt.Errorf("missing actor")
	}
	pub := st.AccountKeys[actor]
	if len(pub) == 0 {
		return nil
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != actor {
		return fmt.Errorf("tx signer mismatch: signer=%q want=%q", env.Signer, actor)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("account %q has malformed pubKey", actor)
	}
	msg := txAuthSignBytesV0(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, env.Sig) {
		return fmt.Errorf("invalid signature")
	}
	return consumeNonce(st, env.Signer, env.Nonce)
}
