package utils

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoIdAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func GenerateNanoIdWithPrefix(prefix string, size int) string {
	id, err := gonanoid.Generate(nanoIdAlphabet, size)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%s_%s", prefix, id)
}

// SyntheticMessageID builds a stable identifier for messages that carry no
// Message-ID header. UIDs are only stable within one UIDVALIDITY.
func SyntheticMessageID(folder string, uidValidity, uid uint32) string {
	folder = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(folder), " ", "_"))
	return fmt.Sprintf("%s.%d.%d@imap", folder, uidValidity, uid)
}
