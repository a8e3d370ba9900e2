package toolcalls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// MaxSummary is the longest argument summary stored, in bytes.
const MaxSummary = 1024

// Summarize renders tool arguments for the ledger. Strings and byte slices
// are kept as they are; anything else is encoded as JSON. Summaries longer
// than MaxSummary are cut and end with the sha256 of the full text.
func Summarize(args any) string {
	var s string
	switch v := args.(type) {
	case nil:
		return ""
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		data, err := sonic.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%+v", v)
		} else {
			s = string(data)
		}
	}
	return truncate(s)
}

func truncate(s string) string {
	if len(s) <= MaxSummary {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	suffix := "...sha256:" + hex.EncodeToString(sum[:])
	cut := MaxSummary - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
