package reclaim

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProofVerifier is the provider-supplied verification primitive at an
// interface boundary: the gateway checks proofs with it, it does not
// reimplement the attestation scheme.
type ProofVerifier interface {
	Verify(ctx context.Context, proof *Proof) error
}

// witnessVerifier checks that every signature on the claim recovers to
// one of the witness addresses listed in the proof.
type witnessVerifier struct{}

func NewWitnessVerifier() ProofVerifier {
	return &witnessVerifier{}
}

func (v *witnessVerifier) Verify(_ context.Context, proof *Proof) error {
	if proof.Identifier == "" {
		return fmt.Errorf("proof has no identifier")
	}
	if len(proof.Signatures) == 0 {
		return fmt.Errorf("proof has no signatures")
	}
	if len(proof.Witnesses) == 0 {
		return fmt.Errorf("proof has no witnesses")
	}

	witnesses := make(map[common.Address]bool, len(proof.Witnesses))
	for _, w := range proof.Witnesses {
		if !common.IsHexAddress(w.ID) {
			return fmt.Errorf("witness id %q is not an address", w.ID)
		}
		witnesses[common.HexToAddress(w.ID)] = true
	}

	// Свидетели подписывают тело клейма в формате personal_sign
	message := claimMessage(proof)
	digest := accounts.TextHash([]byte(message))

	for _, sigHex := range proof.Signatures {
		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			return fmt.Errorf("malformed signature: %w", err)
		}
		if len(sig) != 65 {
			return fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
		}
		if sig[64] >= 27 {
			sig[64] -= 27
		}

		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return fmt.Errorf("failed to recover signer: %w", err)
		}

		signer := crypto.PubkeyToAddress(*pub)
		if !witnesses[signer] {
			return fmt.Errorf("signer %s is not a listed witness", signer.Hex())
		}
	}

	return nil
}

// claimMessage reproduces the canonical string witnesses sign.
func claimMessage(proof *Proof) string {
	return strings.Join([]string{
		proof.ClaimData.Provider,
		proof.ClaimData.Parameters,
		proof.ClaimData.Owner,
		fmt.Sprintf("%d", proof.ClaimData.Timestamp),
		proof.ClaimData.Context,
		proof.Identifier,
		fmt.Sprintf("%d", proof.ClaimData.Epoch),
	}, "\n")
}
