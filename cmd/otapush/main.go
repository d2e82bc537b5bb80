// otapush uploads a firmware image to a device running otad. It computes the
// manifest (size and SHA-256) from the image so the device can validate the
// completed write.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func main() {
	var (
		device  = flag.String("device", "", "device base URL, e.g. http://trap-monitor-1:8080")
		image   = flag.String("image", "", "path to the firmware .bin")
		user    = flag.String("user", "admin", "update username")
		pass    = flag.String("pass", "", "update password")
		version = flag.String("version", "", "firmware version to record on the device")
		noManif = flag.Bool("no-manifest", false, "skip the manifest part (size/checksum not validated)")
		timeout = flag.Duration("timeout", 60*time.Second, "upload timeout")
	)
	flag.Parse()

	if *device == "" || *image == "" {
		fmt.Fprintln(os.Stderr, "usage: otapush -device URL -image FILE [-user U -pass P -version V]")
		os.Exit(2)
	}
	if err := push(*device, *image, *user, *pass, *version, !*noManif, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "otapush:", err)
		os.Exit(1)
	}
}

func push(device, image, user, pass, version string, withManifest bool, timeout time.Duration) error {
	f, err := os.Open(image)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return fmt.Errorf("checksum %s: %w", image, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	// Stream the multipart body through a pipe so the image is never held in
	// memory whole.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeBody(mw, f, fi.Size(), hex.EncodeToString(sum.Sum(nil)), version, filepath.Base(image), withManifest))
	}()

	url := strings.TrimRight(device, "/") + "/update"
	req, err := http.NewRequest(http.MethodPost, url, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(user, pass)

	fmt.Printf("uploading %s (%d bytes) to %s\n", image, fi.Size(), url)
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	text := strings.TrimSpace(string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
	}
	fmt.Println(text)
	if !strings.HasPrefix(text, "Update OK") {
		return fmt.Errorf("device rejected the image")
	}
	return nil
}

func writeBody(mw *multipart.Writer, f io.Reader, size int64, sha, version, name string, withManifest bool) error {
	if withManifest {
		manifest := map[string]any{"size": size, "sha256": sha}
		if version != "" {
			manifest["version"] = version
		}
		mp, err := mw.CreateFormField("manifest")
		if err != nil {
			return err
		}
		if err := json.NewEncoder(mp).Encode(manifest); err != nil {
			return err
		}
	}
	fp, err := mw.CreateFormFile("firmware", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fp, f); err != nil {
		return err
	}
	return mw.Close()
}
