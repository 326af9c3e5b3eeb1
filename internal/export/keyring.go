package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"snapkeep/internal/fsutil"
)

// ErrKeysExist is returned by Setup when a key pair is already present.
var ErrKeysExist = errors.New("export keys already exist")

const (
	publicKeyMode  os.FileMode = 0644
	privateKeyMode os.FileMode = 0600
	keyDirMode     os.FileMode = 0700
)

// Keyring is the local X25519 key pair used for exports when no explicit
// recipients are configured. The public key is stored in plaintext; the
// private key is sealed to the user's passphrase with age's scrypt
// recipient.
type Keyring struct {
	publicKeyPath  string
	privateKeyPath string
	workFactor     int
}

// NewKeyring returns a keyring backed by the two key files.
func NewKeyring(publicKeyPath, privateKeyPath string) *Keyring {
	return &Keyring{publicKeyPath: publicKeyPath, privateKeyPath: privateKeyPath}
}

// SetWorkFactor overrides the scrypt work factor used to seal the private key.
func (k *Keyring) SetWorkFactor(n int) {
	k.workFactor = n
}

// Setup generates a key pair and writes both key files. It refuses to
// replace an existing key of either half, since bundles exported to the
// old public key could no longer be imported.
func (k *Keyring) Setup(passphrase string) error {
	for _, p := range []string{k.publicKeyPath, k.privateKeyPath} {
		exists, err := fsutil.Exists(p)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrKeysExist, p)
		}
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}
	sealed, err := k.seal(identity, passphrase)
	if err != nil {
		return err
	}

	// The private half goes first: a public key alone makes IsConfigured
	// report a keyring that cannot decrypt anything.
	if err := writeKeyFile(k.privateKeyPath, sealed, privateKeyMode); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := writeKeyFile(k.publicKeyPath, []byte(identity.Recipient().String()+"\n"), publicKeyMode); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// seal encrypts the identity's secret key to passphrase.
func (k *Keyring) seal(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := PassphraseRecipient(passphrase, k.workFactor)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing sealed private key: %w", err)
	}
	return buf.Bytes(), nil
}

func writeKeyFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), keyDirMode); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	return fsutil.WriteFileAtomicMode(path, data, mode)
}

// IsConfigured reports whether both key files exist.
func (k *Keyring) IsConfigured() bool {
	for _, p := range []string{k.publicKeyPath, k.privateKeyPath} {
		if exists, err := fsutil.Exists(p); err != nil || !exists {
			return false
		}
	}
	return true
}

// Recipient returns the public key.
func (k *Keyring) Recipient() (age.Recipient, error) {
	data, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

// Unlock decrypts the private key with passphrase.
func (k *Keyring) Unlock(passphrase string) (age.Identity, error) {
	data, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	scrypt, err := PassphraseIdentity(passphrase)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(data), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}
	identities, err := ParseIdentities(r)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return identities[0], nil
}
