package checksum

import "testing"

func TestVerify(t *testing.T) {
	data := []byte("scene.blend contents")
	sum := CalculateCheckSum(data)

	if !Verify(data, sum) {
		t.Fatalf("expected checksum to verify")
	}
	if Verify(data[:len(data)-1], sum) {
		t.Fatalf("expected truncated payload to fail verification")
	}
}
