package filters

import (
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"testing"
)

func TestFlateDecode(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestSpeed)
	w.Write([]byte("hello world"))
	w.Close()

	dec := NewFlateCodec()
	out, err := dec.Decode(context.Background(), buf.Bytes(), 0)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	p := NewDefaultPipeline(DefaultLimits())
	pixels := bytes.Repeat([]byte{0, 64, 128, 255}, 1000)
	for _, chain := range [][]string{
		{"FlateDecode"},
		{"ASCIIHexDecode"},
		{"ASCIIHexDecode", "FlateDecode"},
	} {
		enc, err := p.Encode(context.Background(), pixels, chain)
		if err != nil {
			t.Fatalf("%v: encode: %v", chain, err)
		}
		dec, err := p.Decode(context.Background(), enc, chain)
		if err != nil {
			t.Fatalf("%v: decode: %v", chain, err)
		}
		if !bytes.Equal(dec, pixels) {
			t.Errorf("%v: round trip mismatch", chain)
		}
	}
}

func TestDecompressionLimit(t *testing.T) {
	big := make([]byte, 1<<20)
	enc, err := NewFlateCodec().Encode(context.Background(), big)
	if err != nil {
		t.Fatal(err)
	}
	p := NewDefaultPipeline(Limits{MaxDecompressedSize: 1 << 16})
	if _, err := p.Decode(context.Background(), enc, []string{"FlateDecode"}); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("err = %v, want limit exceeded", err)
	}
	p = NewDefaultPipeline(Limits{MaxDecompressedSize: 1 << 20})
	if out, err := p.Decode(context.Background(), enc, []string{"FlateDecode"}); err != nil || len(out) != 1<<20 {
		t.Errorf("exact limit: %d bytes, %v", len(out), err)
	}
}

func TestDecodeHonorsContext(t *testing.T) {
	enc, _ := NewFlateCodec().Encode(context.Background(), make([]byte, 4096))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFlateCodec().Decode(ctx, enc, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := NewASCIIHexCodec().Decode(context.Background(), []byte(" 48 65 6c\n6c 6F 7>"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "Hellop" {
		t.Errorf("got %q", out)
	}
}

func TestUnknownFilter(t *testing.T) {
	p := NewDefaultPipeline(DefaultLimits())
	if _, err := p.Decode(context.Background(), nil, []string{"DCTDecode"}); err == nil {
		t.Error("expected unknown filter error")
	}
	if _, err := p.Encode(context.Background(), nil, []string{"DCTDecode"}); err == nil {
		t.Error("expected unknown filter error")
	}
}
