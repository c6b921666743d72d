// Package uuid generates the identifiers stamped on pipeline output.
package uuid

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const traceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// TraceIDLength is the length of generated trace ids.
const TraceIDLength = 18

// Generator creates data and trace ids.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a random UUIDv4 string, the data id of one output record.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// NewTraceID returns TraceIDLength random letters and digits.
func (Generator) NewTraceID() (string, error) {
	out := make([]byte, TraceIDLength)
	limit := big.NewInt(int64(len(traceAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate trace id: %w", err)
		}
		out[i] = traceAlphabet[n.Int64()]
	}
	return string(out), nil
}
