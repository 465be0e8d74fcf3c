package subaru

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// newHTTPClient builds the fallback download client. SUBARU_CA_BUNDLE may
// point at a PEM bundle replacing the system roots, for hosts without a
// usable certificate store.
func newHTTPClient(cfg *Config) (*http.Client, error) {
	var pool *x509.CertPool
	if bundle := cfg.Values["SUBARU_CA_BUNDLE"]; bundle != "" {
		pem, err := os.ReadFile(bundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %s: %w", bundle, err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", bundle)
		}
	} else if sys, err := x509.SystemCertPool(); err == nil {
		pool = sys
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: 300 * time.Second}, nil
}

// downloadFile fetches url into dest, preferring curl, then wget, then the
// built-in client. An advisory lock on the destination tolerates unrelated
// concurrent fetches of the same file; partial output is removed after a
// failed attempt.
func downloadFile(ctx context.Context, cfg *Config, url, dest string) error {
	lockPath := dest + ".lock"
	if lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644); err == nil {
		if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX); err == nil {
			defer func() {
				unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
				lockFile.Close()
				os.Remove(lockPath)
			}()
		} else {
			lockFile.Close()
		}
		// Someone else may have finished the download while we waited.
		if st, err := os.Stat(dest); err == nil && st.Size() > 0 {
			cPrintln(colInfo, "File already exists, skipping download:", dest)
			return nil
		}
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Downloading %s\n", url)

	if curl, err := exec.LookPath("curl"); err == nil {
		args := []string{"-L", "--fail", "-o", dest}
		if term.IsTerminal(int(os.Stderr.Fd())) {
			args = append(args, "-#")
		} else {
			args = append(args, "-s")
		}
		args = append(args, url)
		cmd := exec.CommandContext(ctx, curl, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			cPrintln(colInfo, "Download completed:", dest)
			return nil
		}
		os.Remove(dest)
		if ctx.Err() != nil {
			return fmt.Errorf("downloading %s: %w", url, ctx.Err())
		}
		debugf("curl failed for %s, trying wget", url)
	}

	if wget, err := exec.LookPath("wget"); err == nil {
		cmd := exec.CommandContext(ctx, wget, "-q", "-O", dest, url)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			cPrintln(colInfo, "Download completed:", dest)
			return nil
		}
		os.Remove(dest)
		if ctx.Err() != nil {
			return fmt.Errorf("downloading %s: %w", url, ctx.Err())
		}
		debugf("wget failed for %s, trying built-in client", url)
	}

	if err := nativeDownload(ctx, cfg, url, dest); err != nil {
		os.Remove(dest)
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	cPrintln(colInfo, "Download completed:", dest)
	return nil
}

func nativeDownload(ctx context.Context, cfg *Config, url, dest string) error {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	var w io.Writer = out
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
		defer bar.Close()
		w = io.MultiWriter(out, bar)
	}
	_, cpErr := io.Copy(w, resp.Body)
	if err := out.Close(); cpErr == nil {
		cpErr = err
	}
	return cpErr
}
