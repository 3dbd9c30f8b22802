package verify

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/dustin/go-humanize"
	"github.com/jedisct1/go-minisign"
	"golang.org/x/crypto/blake2b"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

// SignatureKind selects the detached signature scheme.
type SignatureKind string

const (
	KindMinisign SignatureKind = "minisign"
	KindPGP      SignatureKind = "pgp"
)

// Signature is a detached signature together with the public key that must
// have produced it.
type Signature struct {
	Kind SignatureKind
	Data []byte // signature file contents
	Key  []byte // minisign public key, or an OpenPGP keyring (armored or binary)
}

// DetectKind guesses the scheme from the signature file contents.
func DetectKind(data []byte) (SignatureKind, error) {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "-----BEGIN PGP SIGNATURE-----"):
		return KindPGP, nil
	case strings.HasPrefix(trimmed, "untrusted comment:"):
		return KindMinisign, nil
	case len(data) > 0 && data[0]&0x80 != 0:
		// binary OpenPGP packet
		return KindPGP, nil
	default:
		return "", fmt.Errorf("unrecognized signature format")
	}
}

// VerifyFile checks sig against the file at path and returns the method
// that succeeded. Failures are *errs.SignatureError.
func VerifyFile(path string, sig Signature) (Method, error) {
	switch sig.Kind {
	case KindMinisign:
		if err := verifyMinisign(path, sig); err != nil {
			return MethodNone, &errs.SignatureError{Path: path, Method: string(KindMinisign), Err: err}
		}
		return MethodMinisign, nil
	case KindPGP:
		if err := verifyPGP(path, sig); err != nil {
			return MethodNone, &errs.SignatureError{Path: path, Method: string(KindPGP), Err: err}
		}
		return MethodPGP, nil
	default:
		return MethodNone, &errs.SignatureError{Path: path, Method: string(sig.Kind), Err: fmt.Errorf("unsupported signature kind")}
	}
}

// maxLegacyMinisignSize bounds the in-memory read for legacy "Ed" signatures,
// which sign the raw file. Prehashed "ED" signatures stream the file.
var maxLegacyMinisignSize int64 = 512 << 20

func verifyMinisign(path string, sig Signature) error {
	pubKey, err := minisign.NewPublicKey(minisignKeyLine(sig.Key))
	if err != nil {
		return fmt.Errorf("read minisign pubkey: %w", err)
	}

	decoded, err := minisign.DecodeSignature(normalizeLines(sig.Data))
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var message []byte
	switch decoded.SignatureAlgorithm {
	case [2]byte{'E', 'D'}:
		h, err := blake2b.New512(nil)
		if err != nil {
			return fmt.Errorf("hash archive: %w", err)
		}
		if _, err := io.Copy(h, file); err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		// The key signed the digest, so check it as a plain message.
		message = h.Sum(nil)
		decoded.SignatureAlgorithm = [2]byte{'E', 'd'}
	case [2]byte{'E', 'd'}:
		message, err = io.ReadAll(io.LimitReader(file, maxLegacyMinisignSize+1))
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if int64(len(message)) > maxLegacyMinisignSize {
			return fmt.Errorf("legacy minisign signature over a file larger than %s, re-sign with prehashing",
				humanize.IBytes(uint64(maxLegacyMinisignSize)))
		}
	default:
		return fmt.Errorf("unsupported minisign signature algorithm %q", decoded.SignatureAlgorithm[:])
	}

	valid, err := pubKey.Verify(message, decoded)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("signature does not match")
	}
	return nil
}

// minisignKeyLine accepts either the bare base64 key or a full .pub file
// with its untrusted comment line.
func minisignKeyLine(key []byte) string {
	lines := strings.Split(strings.TrimSpace(string(key)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func normalizeLines(data []byte) string {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimRight(s, "\n \t")
}

func verifyPGP(path string, sig Signature) error {
	keyring, err := loadKeyring(sig.Key)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	// Try armored first, then binary.
	_, err = openpgp.CheckArmoredDetachedSignature(keyring, file, bytes.NewReader(sig.Data), nil)
	if err != nil {
		if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("rewind archive: %w", seekErr)
		}
		_, err = openpgp.CheckDetachedSignature(keyring, file, bytes.NewReader(sig.Data), nil)
	}
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

func loadKeyring(key []byte) (openpgp.EntityList, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(key))
	if err != nil {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(key))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}
