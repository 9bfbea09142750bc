// Package pathutil maps resource keys and map names onto safe file names.
package pathutil

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/coordkit/pkg/errclass"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// maxNaturalName bounds names used verbatim as file names.
const maxNaturalName = 96

// ValidateName checks that name can be used verbatim as a single path element.
func ValidateName(name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessage("name must not be empty")
	}

	name = norm.NFC.String(name)

	if name == "." || strings.Contains(name, "..") {
		return errclass.ErrNameInvalid.WithMessagef("name must not contain '..': %s", name)
	}

	if strings.ContainsAny(name, "/\\") {
		return errclass.ErrNameInvalid.WithMessagef("name must not contain separators: %s", name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("name must not contain control characters: %q", name)
		}
	}

	if !nameRegex.MatchString(name) {
		return errclass.ErrNameInvalid.WithMessagef("name must match [a-zA-Z0-9._-]+: %s", name)
	}

	if len(name) > maxNaturalName {
		return errclass.ErrNameInvalid.WithMessagef("name longer than %d bytes", maxNaturalName)
	}

	return nil
}

// FileName maps an arbitrary key to a deterministic file name stem. Keys that
// pass ValidateName are used as is; anything else becomes a readable prefix
// plus a hash of the NFC-normalized key, joined by '~' so the two forms never
// collide.
func FileName(key string) string {
	if strings.HasPrefix(key, ".") {
		// hidden names would be skipped by directory scans
		return hashed(key)
	}
	if ValidateName(key) == nil {
		return norm.NFC.String(key)
	}
	return hashed(key)
}

func hashed(key string) string {
	normalized := norm.NFC.String(key)
	sum := sha256.Sum256([]byte(normalized))

	var b strings.Builder
	for _, r := range normalized {
		if b.Len() >= 32 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String() + "~" + hex.EncodeToString(sum[:6])
}
