// Package types - signed transition requests
package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TxType names one of the module's entry operations.
type TxType string

const (
	TxCreateTodoList TxType = "create_todo_list"
	TxCreateTask     TxType = "create_task"
	TxCompleteTask   TxType = "complete_task"
)

// Transaction is an unsigned transition request against a deployed module.
// Nonce makes every signed request distinct, so two identical user actions
// never share a hash.
type Transaction struct {
	Type      TxType          `json:"type"`
	PackageID string          `json:"package_id"`
	Nonce     string          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// CreateTaskPayload carries raw title and description bytes. The ledger
// decodes them as text without validating length or content.
type CreateTaskPayload struct {
	ListID      ObjectID `json:"list_id"`
	Title       []byte   `json:"title"`
	Description []byte   `json:"description"`
}

// CompleteTaskPayload names the task to mark complete.
type CompleteTaskPayload struct {
	TaskID ObjectID `json:"task_id"`
}

// Signer is anything that can sign with an ed25519 key.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
}

// SignedTransaction is the wire form submitted to a node. Tx holds the
// JSON encoding of a Transaction exactly as it was signed.
type SignedTransaction struct {
	Tx        []byte `json:"tx"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// NewTransaction builds a transaction with a JSON-encoded payload.
func NewTransaction(txType TxType, packageID string, payload any) (*Transaction, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Transaction{
		Type:      txType,
		PackageID: packageID,
		Nonce:     uuid.New().String(),
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// Sign encodes tx and signs it with s.
func (tx *Transaction) Sign(s Signer) (*SignedTransaction, error) {
	if s == nil {
		return nil, errors.New("nil signer")
	}
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Tx:        b,
		PublicKey: []byte(s.PublicKey()),
		Signature: s.Sign(b),
	}, nil
}

// Verify checks the signature against the embedded public key.
func (s *SignedTransaction) Verify() bool {
	if len(s.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(s.PublicKey), s.Tx, s.Signature)
}

// GetTransaction decodes the signed inner transaction.
func (s *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(s.Tx, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Signer returns the address of the key that signed s.
func (s *SignedTransaction) Signer() Address {
	return AddressFromPublicKey(s.PublicKey)
}

// Hash returns the hex sha256 over the signed bytes and signature.
func (s *SignedTransaction) Hash() string {
	h := sha256.New()
	h.Write(s.Tx)
	h.Write(s.Signature)
	return hex.EncodeToString(h.Sum(nil))
}

// AddressFromPublicKey derives the canonical principal address.
func AddressFromPublicKey(pub []byte) Address {
	return Address("0x" + hex.EncodeToString(pub))
}
