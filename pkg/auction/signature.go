package auction

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// signedMessagePrefix is the EIP-191 personal-sign prefix for a 32-byte digest.
const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// ProposalDigest computes the digest an agent signs when submitting a
// proposal: keccak256 over (intentID, strategyHash, proofID), wrapped with
// the personal-sign prefix. Altering any of the three fields after signing
// invalidates the signature.
func ProposalDigest(intentID string, strategyHash common.Hash, proofID string) common.Hash {
	inner := crypto.Keccak256Hash([]byte(intentID), strategyHash.Bytes(), []byte(proofID))
	return crypto.Keccak256Hash([]byte(signedMessagePrefix), inner.Bytes())
}

// SignProposal signs the proposal digest with the agent's registered key.
func SignProposal(key *ecdsa.PrivateKey, intentID string, strategyHash common.Hash, proofID string) ([]byte, error) {
	digest := ProposalDigest(intentID, strategyHash, proofID)
	return crypto.Sign(digest.Bytes(), key)
}

// VerifyProposal recovers the signer from a 65-byte [R || S || V] signature
// and compares it against the agent's registered address.
func VerifyProposal(signature []byte, intentID string, strategyHash common.Hash, proofID string, signer common.Address) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	digest := ProposalDigest(intentID, strategyHash, proofID)
	pub, err := crypto.SigToPub(digest.Bytes(), signature)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == signer
}
