package network

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pyropy/renderfarm/lib/checksum"
	"github.com/pyropy/renderfarm/rpc/protocol"
)

func TestReadBodyAfterEncodedHeader(t *testing.T) {
	bodies := [][]byte{
		[]byte("BLENDER-v410 scene bytes"),
		[]byte("\nstarts with a newline"),
		{},
	}

	for _, body := range bodies {
		var buf bytes.Buffer
		hdr := protocol.FileResponseHeader{OK: true, Size: int64(len(body)), CheckSum: checksum.CalculateCheckSum(body)}
		if err := json.NewEncoder(&buf).Encode(hdr); err != nil {
			t.Fatalf("encode: %v", err)
		}
		buf.Write(body)

		dec := json.NewDecoder(&buf)
		var got protocol.FileResponseHeader
		if err := dec.Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}

		data, err := readBody(dec, &buf, got.Size)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !bytes.Equal(data, body) {
			t.Fatalf("expected %q, got %q", body, data)
		}
		if !checksum.Verify(data, got.CheckSum) {
			t.Fatalf("checksum mismatch for %q", body)
		}
	}
}

func TestReadBodyShort(t *testing.T) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(protocol.FileResponseHeader{OK: true, Size: 10}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf.WriteString("abc")

	dec := json.NewDecoder(&buf)
	var hdr protocol.FileResponseHeader
	if err := dec.Decode(&hdr); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if _, err := readBody(dec, &buf, hdr.Size); err == nil {
		t.Fatalf("expected error for truncated body")
	}
}
