package checksum

import "crypto/sha256"

// CalculateCheckSum folds the first four bytes of the sha256 digest of data
// into an int. It guards transfers against truncation, not tampering.
func CalculateCheckSum(data []byte) int {
	result := 0
	bytes := sha256.Sum256(data)

	for i := 0; i < 4; i++ {
		result = result << 8
		result += int(bytes[i])
	}

	return result
}

// Verify reports whether data matches the expected checksum.
func Verify(data []byte, expected int) bool {
	return CalculateCheckSum(data) == expected
}
