package vm

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ---------------------------------------------------------------------------
// Host service gateway
// ---------------------------------------------------------------------------

// Service names one host-provided operation reachable from the instruction
// set.
type Service int

const (
	ServiceHash Service = iota
	ServiceSign
	ServiceVerify
	ServiceRng
	ServiceSyscall
	ServiceInt
	ServiceNetSend
	ServiceNetRecv
)

func (s Service) String() string {
	switch s {
	case ServiceHash:
		return "HASH"
	case ServiceSign:
		return "SIGN"
	case ServiceVerify:
		return "VERIFY"
	case ServiceRng:
		return "RNG"
	case ServiceSyscall:
		return "SYSCALL"
	case ServiceInt:
		return "INT"
	case ServiceNetSend:
		return "NET_SEND"
	case ServiceNetRecv:
		return "NET_RECV"
	}
	return "SERVICE?"
}

// HostGateway is the narrow interface the engine calls for HASH, SIGN,
// VERIFY, RNG, SYSCALL, INT and the NET_* opcodes. Invoke receives the live
// evaluation stack and mutates it per the host contract; any returned error
// halts the VM as a HostGatewayFailure.
type HostGateway interface {
	Invoke(svc Service, stack *Stack) error
}

// errUnderflow is the gateway-side stack precondition failure.
var errUnderflow = errors.New("operand stack empty")

// ---------------------------------------------------------------------------
// LocalGateway
// ---------------------------------------------------------------------------

// LocalGateway is the in-process host: SHA-256 hashing, an ephemeral
// Ed25519 keypair for SIGN/VERIFY, crypto/rand for RNG, and a loopback
// buffer connecting NET_SEND to NET_RECV.
type LocalGateway struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	mu       sync.Mutex
	loopback []*big.Int
}

// NewLocalGateway creates a gateway with a fresh signing key.
func NewLocalGateway() (*LocalGateway, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating gateway key: %w", err)
	}
	return &LocalGateway{priv: priv, pub: pub}, nil
}

// Invoke implements HostGateway.
func (g *LocalGateway) Invoke(svc Service, stack *Stack) error {
	switch svc {
	case ServiceHash:
		v, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		sum := sha256.Sum256(v.Bytes())
		stack.Push(new(big.Int).SetBytes(sum[:]))
		return nil

	case ServiceSign:
		v, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		sig := ed25519.Sign(g.priv, v.Bytes())
		stack.Push(v)
		stack.Push(new(big.Int).SetBytes(sig))
		return nil

	case ServiceVerify:
		sig, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		v, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		sigBytes := sig.Bytes()
		// Restore leading zero bytes stripped by the integer form.
		if len(sigBytes) < ed25519.SignatureSize {
			padded := make([]byte, ed25519.SignatureSize)
			copy(padded[ed25519.SignatureSize-len(sigBytes):], sigBytes)
			sigBytes = padded
		}
		result := int64(0)
		if len(sigBytes) == ed25519.SignatureSize && ed25519.Verify(g.pub, v.Bytes(), sigBytes) {
			result = 1
		}
		stack.Push(big.NewInt(result))
		return nil

	case ServiceRng:
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return err
		}
		stack.Push(new(big.Int).SetBytes(buf[:]))
		return nil

	case ServiceSyscall:
		nr, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		if nr.Sign() != 0 {
			return fmt.Errorf("unsupported syscall %s", nr)
		}
		stack.Push(new(big.Int))
		return nil

	case ServiceInt:
		vec, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		if vec.Sign() != 0 {
			return fmt.Errorf("unsupported interrupt vector %s", vec)
		}
		return nil

	case ServiceNetSend:
		v, ok := stack.Pop()
		if !ok {
			return errUnderflow
		}
		g.mu.Lock()
		g.loopback = append(g.loopback, v)
		g.mu.Unlock()
		return nil

	case ServiceNetRecv:
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.loopback) == 0 {
			stack.Push(new(big.Int))
			return nil
		}
		v := g.loopback[0]
		g.loopback = g.loopback[1:]
		stack.Push(v)
		return nil
	}
	return fmt.Errorf("unknown service %d", int(svc))
}
