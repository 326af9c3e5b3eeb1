// Package export moves snapshots in and out of the store as self-contained,
// encrypted bundles. A bundle file is age(zstd(JSON)).
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"snapkeep/internal/snapkeep"
)

// BundleVersion is the format version written by Encode.
const BundleVersion = 1

// ErrNoRecipients is returned when a bundle would be encrypted to nobody.
var ErrNoRecipients = errors.New("no recipients for export")

// Bundle is a snapshot manifest together with the content of its files.
// Missing lists files whose blobs were unavailable at export time.
type Bundle struct {
	Version  int                        `json:"version"`
	Manifest *snapkeep.SnapshotManifest `json:"manifest"`
	Files    map[string][]byte          `json:"files"`
	Missing  []string                   `json:"missing,omitempty"`
}

// FromContent builds a bundle from a resolved snapshot.
func FromContent(sc *snapkeep.SnapshotContent) *Bundle {
	return &Bundle{
		Version:  BundleVersion,
		Manifest: sc.Manifest,
		Files:    sc.Files,
		Missing:  sc.Missing,
	}
}

// Encode writes b to w, compressed and encrypted to every recipient.
func Encode(w io.Writer, b *Bundle, recipients ...age.Recipient) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	encWriter, err := age.Encrypt(w, recipients...)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	zw, err := zstd.NewWriter(encWriter)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}

	if b.Version == 0 {
		b.Version = BundleVersion
	}
	if err := json.NewEncoder(zw).Encode(b); err != nil {
		zw.Close()
		return fmt.Errorf("encoding bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decode reads a bundle written by Encode using any of the identities.
func Decode(r io.Reader, identities ...age.Identity) (*Bundle, error) {
	decReader, err := age.Decrypt(r, identities...)
	if err != nil {
		return nil, fmt.Errorf("creating decrypted reader: %w", err)
	}
	zr, err := zstd.NewReader(decReader)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer zr.Close()

	var b Bundle
	if err := json.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", b.Version)
	}
	if b.Manifest == nil {
		return nil, fmt.Errorf("bundle has no manifest")
	}
	if b.Files == nil {
		b.Files = map[string][]byte{}
	}
	return &b, nil
}

// ParseRecipients parses age recipient strings (age1...) as found in config.
func ParseRecipients(values []string) ([]age.Recipient, error) {
	if len(values) == 0 {
		return nil, nil
	}
	recipients, err := age.ParseRecipients(strings.NewReader(strings.Join(values, "\n")))
	if err != nil {
		return nil, fmt.Errorf("parsing recipients: %w", err)
	}
	return recipients, nil
}

// ParseIdentities parses an age identity file.
func ParseIdentities(r io.Reader) ([]age.Identity, error) {
	identities, err := age.ParseIdentities(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("parsing identities: %w", err)
	}
	return identities, nil
}

// PassphraseRecipient encrypts to a passphrase. workFactor <= 0 keeps age's
// default; tests lower it to keep scrypt fast.
func PassphraseRecipient(passphrase string, workFactor int) (age.Recipient, error) {
	r, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		r.SetWorkFactor(workFactor)
	}
	return r, nil
}

// PassphraseIdentity decrypts bundles encrypted with PassphraseRecipient.
func PassphraseIdentity(passphrase string) (age.Identity, error) {
	id, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	return id, nil
}
