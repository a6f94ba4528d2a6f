// Package wallet provides key management and transaction-forming helpers:
// the encrypted keystore file a node's creator key lives in, and the
// money-transfer construction that produces a hex-encoded transfer for the
// pool. The node's read-only RPC surface does not call it.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/prisma-node/prisma/crypto"
	"github.com/prisma-node/prisma/txn"
	"golang.org/x/crypto/pbkdf2"
)

type keystoreFile struct {
	PubKey     string `json:"pub_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// Wallet binds a creator key to its derived wire address.
type Wallet struct {
	priv crypto.PrivateKey
}

// Generate creates a wallet around a fresh key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Wallet{priv: priv}, nil
}

// FromKey wraps an already-loaded private key.
func FromKey(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv}
}

// PrivKey returns the wallet's private key.
func (w *Wallet) PrivKey() crypto.PrivateKey { return w.priv }

// PubKey returns the wallet's public key hex.
func (w *Wallet) PubKey() string { return w.priv.Public().Hex() }

// Address returns the wallet's wire address.
func (w *Wallet) Address() string { return w.priv.Public().Address() }

// FormFundsTx builds a hex-encoded money-transfer transaction from this
// wallet's address to recipient, ready for the outbound pool.
func (w *Wallet) FormFundsTx(recipient string, amount uint64) (string, error) {
	if err := txn.ValidateAddress(recipient); err != nil {
		return "", err
	}
	tx := txn.MoneyTransfer{
		Type:            txn.TypeMoneyTransfer,
		Amount:          amount,
		SenderPublicKey: w.PubKey(),
		SenderID:        w.Address(),
		RecipientID:     recipient,
		Timestamp:       float64(time.Now().UnixNano()) / 1e9,
	}
	return txn.HexEncode(tx)
}

// SaveKey encrypts priv with password and writes it to path.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv, nil)

	ks := keystoreFile{
		PubKey:     priv.Public().Hex(),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKey decrypts the keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	privBytes, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("wrong password or corrupted keystore")
	}
	return crypto.PrivateKey(privBytes), nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 210_000, 32, sha256.New)
}
