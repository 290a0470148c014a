package ssh

import (
	"github.com/charmbracelet/keygen"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// KeyPair is a generated SSH key pair on disk.
type KeyPair struct {
	*keygen.KeyPair
	Path string
}

// GenerateKeyPair creates an ed25519 key pair at keyFile and writes
// both halves to disk. If a key already exists at that path it is
// loaded instead of being overwritten.
func GenerateKeyPair(keyFile string) (*KeyPair, error) {
	logrus.Debugf("generating ed25519 SSH key pair at %q", keyFile)

	kp, err := keygen.New(keyFile, keygen.WithKeyType(keygen.Ed25519))
	if err != nil {
		return nil, errors.Wrapf(err, "generate key pair at %q", keyFile)
	}
	if err := kp.WriteKeys(); err != nil {
		return nil, errors.Wrapf(err, "write key pair to %q", keyFile)
	}

	return &KeyPair{KeyPair: kp, Path: keyFile}, nil
}

// PrivateKeyPath returns the path to the private key file.
func (kp *KeyPair) PrivateKeyPath() string { return kp.Path }

// PublicKeyPath returns the path to the public key file.
func (kp *KeyPair) PublicKeyPath() string { return kp.Path + ".pub" }
