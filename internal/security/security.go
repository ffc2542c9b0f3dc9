// Package security defines the contract between the IP adapter and the
// DTLS layer. The adapter never inspects secure payloads; it hands them to
// a Hook and transmits or delivers whatever the hook returns.
package security

import "github.com/joshuafuller/ipadapter/internal/endpoint"

// Hook encrypts outbound and decrypts inbound secure datagrams.
type Hook interface {
	// Encrypt returns the record to transmit to ep for plaintext.
	Encrypt(ep endpoint.Endpoint, plaintext []byte) ([]byte, error)

	// Decrypt processes a record received from ep. A nil result with a nil
	// error means the record was consumed (for example a handshake message)
	// and nothing is delivered upward.
	Decrypt(ep endpoint.Endpoint, record []byte) ([]byte, error)
}

// HookFuncs adapts two functions to a Hook. A nil function passes data
// through unchanged.
type HookFuncs struct {
	EncryptFunc func(ep endpoint.Endpoint, plaintext []byte) ([]byte, error)
	DecryptFunc func(ep endpoint.Endpoint, record []byte) ([]byte, error)
}

// Encrypt implements Hook.
func (h HookFuncs) Encrypt(ep endpoint.Endpoint, plaintext []byte) ([]byte, error) {
	if h.EncryptFunc == nil {
		return plaintext, nil
	}
	return h.EncryptFunc(ep, plaintext)
}

// Decrypt implements Hook.
func (h HookFuncs) Decrypt(ep endpoint.Endpoint, record []byte) ([]byte, error) {
	if h.DecryptFunc == nil {
		return record, nil
	}
	return h.DecryptFunc(ep, record)
}
