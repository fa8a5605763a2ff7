package cloudinary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedClient(baseURL string) *Client {
	c := New("demo", "key", "secret", "f")
	c.BaseURL = baseURL
	c.now = func() time.Time { return time.Unix(1741573800, 0) }
	return c
}

func TestSignIgnoresUnsignedParams(t *testing.T) {
	c := fixedClient("")
	params := map[string]string{
		"timestamp": "1741573800",
		"folder":    "f",
		"public_id": "stu-1_2025-03-10_morning",
		"overwrite": "true",
		"api_key":   "key",
		"file":      "ignored",
	}
	const want = "a22f9e1c016d9c56f6cda20f6dd7509d63ea069c"
	if got := c.sign(params); got != want {
		t.Fatalf("sign = %s want %s", got, want)
	}
}

func TestArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("public_id"); got != "stu-1_2025-03-10_morning" {
			t.Errorf("public_id = %q", got)
		}
		if got := r.FormValue("signature"); got != "a22f9e1c016d9c56f6cda20f6dd7509d63ea069c" {
			t.Errorf("signature = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file: %v", err)
		} else {
			b, _ := io.ReadAll(f)
			if string(b) != "jpegbytes" {
				t.Errorf("file body = %q", b)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"public_id":"f/stu-1_2025-03-10_morning","secure_url":"https://res.example/x.jpg"}`)
	}))
	defer srv.Close()

	url, err := fixedClient(srv.URL).Archive(context.Background(), "stu-1_2025-03-10_morning", []byte("jpegbytes"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://res.example/x.jpg" {
		t.Fatalf("url = %s", url)
	}
}

func TestArchiveUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := fixedClient(srv.URL).Archive(context.Background(), "x", []byte("y")); err == nil {
		t.Fatal("expected error on 401")
	}
}
