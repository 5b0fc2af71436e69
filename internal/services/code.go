package services

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Алфавит без визуально похожих символов (0/O, 1/I/L)
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

var codePattern = regexp.MustCompile(`^[A-Z0-9]{2,12}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// GenerateCode создает человекочитаемый код токена вида PREFIX-XXXX-XXXX.
// Уникальность обеспечивает ограничение в базе; при коллизии выпуск
// повторяет генерацию.
func GenerateCode(prefix string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	chars := make([]byte, 8)
	for i, b := range buf {
		chars[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(prefix), chars[:4], chars[4:]), nil
}

// LooksLikeCode проверяет форму кода токена без обращения к хранилищу.
func LooksLikeCode(s string) bool {
	return codePattern.MatchString(strings.ToUpper(s))
}
