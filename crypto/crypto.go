// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package crypto provides the checksum services used to verify bundle
// archives as they move between sites.
package crypto

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash/adler32"
	"io"
	"os"
)

// Checksums holds the pair of digests recorded for every bundle archive.
type Checksums struct {
	Adler32 string `json:"adler32"`
	Sha512  string `json:"sha512"`
}

// Sha512Sum computes the SHA-512 digest of the file at the given path,
// returned as lowercase hex.
func Sha512Sum(path string) (string, error) {
	h := sha512.New()
	err := hashFile(path, h)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Sum computes both the SHA-512 and Adler-32 digests of the file at the
// given path in a single pass.
func Sum(path string) (Checksums, error) {
	sha := sha512.New()
	adler := adler32.New()
	err := hashFile(path, io.MultiWriter(sha, adler))
	if err != nil {
		return Checksums{}, err
	}
	return Checksums{
		Adler32: fmt.Sprintf("%08x", adler.Sum32()),
		Sha512:  hex.EncodeToString(sha.Sum(nil)),
	}, nil
}

func hashFile(path string, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	buffer := make([]byte, 128*1024)
	_, err = io.CopyBuffer(w, file, buffer)
	return err
}
