// Package validation содержит функции валидации входных данных.
package validation

const maxRefLength = 64

// IsValidRef проверяет корректность ссылочного идентификатора поставщика
// или слага пары: строчные латинские буквы, цифры и дефисы,
// без дефиса в начале или конце.
func IsValidRef(ref string) bool {
	if ref == "" || len(ref) > maxRefLength {
		return false
	}

	if ref[0] == '-' || ref[len(ref)-1] == '-' {
		return false
	}

	for i := 0; i < len(ref); i++ {
		ch := ref[i]
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '-':
		default:
			return false
		}
	}

	return true
}
