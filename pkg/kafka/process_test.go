// pkg/kafka/process_test.go
package kafka

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeText(t *testing.T) {
	cases := []struct {
		name    string
		in      []byte
		want    string
		wantErr bool
	}{
		{"nil", nil, "", false},
		{"empty", []byte{}, "", false},
		{"ascii", []byte("hello"), "hello", false},
		{"utf8", []byte("привет"), "привет", false},
		{"invalid", []byte{0xff, 0xfe, 0x00}, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := decodeText(c.in)
			if got != c.want {
				t.Errorf("got %q; want %q", got, c.want)
			}
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v; wantErr=%v", err, c.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestFormatHeaders(t *testing.T) {
	cases := []struct {
		name    string
		headers []Header
		want    string
	}{
		{"none", nil, ""},
		{"one", []Header{{Key: "h", Value: []byte("v")}}, `0:"h"=>"v"`},
		{"ordered", []Header{
			{Key: "header_key", Value: []byte("header_value")},
			{Key: "b", Value: []byte("2")},
			{Key: "c", Value: nil},
		}, `0:"header_key"=>"header_value", 1:"b"=>"2", 2:"c"=>""`},
		{"invalid value", []Header{{Key: "bin", Value: []byte{0xc3, 0x28}}}, `0:"bin"=>""`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FormatHeaders(c.headers); got != c.want {
				t.Errorf("got %s; want %s", got, c.want)
			}
		})
	}
}

func TestFormatHeaders_EntryCount(t *testing.T) {
	hs := make([]Header, 7)
	for i := range hs {
		hs[i] = Header{Key: "k", Value: []byte("v")}
	}
	if got := strings.Count(FormatHeaders(hs), ", "); got != len(hs)-1 {
		t.Errorf("separators = %d; want %d", got, len(hs)-1)
	}
}

func TestSummary(t *testing.T) {
	rec := &InboundRecord{
		Topic:     "t1",
		Partition: 0,
		Offset:    42,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	got := Summary("k", "hello", rec, `0:"h"=>"v"`)
	want := `key='k' payload='hello', topic=t1 partition=0, offset=42 timestamp=2024-03-01T12:00:00.000Z headers=[0:"h"=>"v"]`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	rec.Timestamp = time.Time{}
	if got := Summary("", "", rec, ""); !strings.Contains(got, "timestamp=none headers=[]") {
		t.Errorf("zero timestamp rendered as %s", got)
	}
}
