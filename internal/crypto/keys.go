// Package crypto loads the trading wallet key, either raw or from a
// password-encrypted key file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 16
	aesKeyLen  = 32
	keyVersion = 1
)

// iterations is the PBKDF2-HMAC-SHA256 work factor. Tests lower it.
var iterations = 480_000

// keyFile is the on-disk encrypted key. Address lets a wrong file be
// detected before any transaction is signed.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig selects the key source. PrivateKey wins when both are set.
type KeyConfig struct {
	PrivateKey       string // hex, optional 0x prefix
	EncryptedKeyPath string
	KeyPassword      string
}

// LoadKey resolves the wallet key from cfg.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: parse private key: %w", err)
		}
		return key, nil
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no wallet key configured (set wallet.private_key or wallet.encrypted_key_path)")
}

// EncryptKey seals a hex private key with AES-256-GCM under a PBKDF2-derived
// key and returns the JSON file body.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}, "", "  ")
}

// DecryptKey opens a file produced by EncryptKey.
func DecryptKey(body []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var f keyFile
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if f.Version != keyVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", f.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, f.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	raw, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key: %w", err)
	}
	if f.Address != "" && ethcrypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(f.Address) {
		return nil, fmt.Errorf("crypto: key file address %s does not match decrypted key", f.Address)
	}
	return key, nil
}

func newGCM(password string, salt []byte, iter int) (cipher.AEAD, error) {
	if iter <= 0 {
		return nil, fmt.Errorf("crypto: invalid iteration count %d", iter)
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iter, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
