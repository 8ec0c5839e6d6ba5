package utils

// MaskSecret keeps the first four characters of s and hides the rest.
func MaskSecret(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return "*****"
	}
	return string(r[:4]) + "*****"
}
