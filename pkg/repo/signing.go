package repo

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/keel/pkg/object"
)

// SignaturePrefix tags SSH commit signatures:
// "sshsig-v1:<format>:<base64 public key>:<base64 signature>".
const SignaturePrefix = "sshsig-v1"

var (
	ErrUnsigned         = errors.New("commit is not signed")
	ErrInvalidSignature = errors.New("invalid commit signature")
)

// CommitSigner signs canonical commit payload bytes and returns an encoded
// signature string to be persisted in CommitObj.Signature.
type CommitSigner func(payload []byte) (string, error)

// SignatureInfo describes a verified commit signature.
type SignatureInfo struct {
	Format      string
	Key         ssh.PublicKey
	Fingerprint string
}

// VerifyCommit checks the SSH signature embedded in commit h against the
// public key carried alongside it.
func (r *Repo) VerifyCommit(h object.Hash) (*SignatureInfo, error) {
	unlock, err := r.readLock("verify commit")
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("verify commit %s: %w", h.Short(), err)
	}
	info, err := VerifySignature(c)
	if err != nil {
		return nil, fmt.Errorf("verify commit %s: %w", h.Short(), err)
	}
	return info, nil
}

// VerifySignature checks c.Signature over the commit's signing payload.
func VerifySignature(c *object.CommitObj) (*SignatureInfo, error) {
	if strings.TrimSpace(c.Signature) == "" {
		return nil, ErrUnsigned
	}
	parts := strings.Split(c.Signature, ":")
	if len(parts) != 4 || parts[0] != SignaturePrefix {
		return nil, fmt.Errorf("%w: unknown encoding", ErrInvalidSignature)
	}
	format, pubB64, sigB64 := parts[1], parts[2], parts[3]

	pubRaw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidSignature, err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidSignature, err)
	}
	blob, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidSignature, err)
	}

	sig := &ssh.Signature{Format: format, Blob: blob}
	if err := pub.Verify(object.CommitSigningPayload(c), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &SignatureInfo{Format: format, Key: pub, Fingerprint: ssh.FingerprintSHA256(pub)}, nil
}

// NewSSHSigner returns a CommitSigner backed by an SSH signer.
func NewSSHSigner(signer ssh.Signer) CommitSigner {
	pubB64 := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", SignaturePrefix, sig.Format, pubB64, sigB64), nil
	}
}
