package cryptox_test

import (
	"crypto/rand"
	"os"
	"testing"

	"github.com/castellanhq/castellan/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptKeyMaterial(t *testing.T) {
	// Set a test master key
	os.Setenv("CASTELLAN_MASTER_KEY", "test-master-key-for-encryption-12345")
	t.Cleanup(func() {
		os.Unsetenv("CASTELLAN_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})

	material := []byte("ed25519-seed-and-aead-secret-material-0123456789abcdef0123456789abcdef")

	// Encrypt
	encrypted, err := cryptox.EncryptKeyMaterial(material)
	require.NoError(t, err)
	require.NotEmpty(t, encrypted)
	require.NotEqual(t, material, encrypted, "encrypted data should differ from plaintext")

	// Decrypt
	decrypted, err := cryptox.DecryptKeyMaterial(encrypted)
	require.NoError(t, err)
	require.Equal(t, material, decrypted, "decrypted data should match original")
}

func TestEncryptDecryptMultipleTimes(t *testing.T) {
	os.Setenv("CASTELLAN_MASTER_KEY", "test-master-key-multiple-times-xyz")
	t.Cleanup(func() {
		os.Unsetenv("CASTELLAN_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})

	testData := []byte("sensitive-private-key-data-12345")

	// Encrypt multiple times - should produce different ciphertexts due to random nonce
	encrypted1, err := cryptox.EncryptKeyMaterial(testData)
	require.NoError(t, err)

	encrypted2, err := cryptox.EncryptKeyMaterial(testData)
	require.NoError(t, err)

	require.NotEqual(t, encrypted1, encrypted2, "multiple encryptions should produce different ciphertexts")

	// But both should decrypt to the same plaintext
	decrypted1, err := cryptox.DecryptKeyMaterial(encrypted1)
	require.NoError(t, err)
	require.Equal(t, testData, decrypted1)

	decrypted2, err := cryptox.DecryptKeyMaterial(encrypted2)
	require.NoError(t, err)
	require.Equal(t, testData, decrypted2)
}

func TestDecryptInvalidData(t *testing.T) {
	os.Setenv("CASTELLAN_MASTER_KEY", "test-master-key-invalid-data")
	t.Cleanup(func() {
		os.Unsetenv("CASTELLAN_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})

	// Try to decrypt garbage data
	_, err := cryptox.DecryptKeyMaterial([]byte("invalid-encrypted-data"))
	require.Error(t, err, "decrypting invalid data should fail")
}

func TestDecryptTamperedData(t *testing.T) {
	os.Setenv("CASTELLAN_MASTER_KEY", "test-master-key-tampered")
	t.Cleanup(func() {
		os.Unsetenv("CASTELLAN_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})

	testData := []byte("original-data")

	encrypted, err := cryptox.EncryptKeyMaterial(testData)
	require.NoError(t, err)

	// Tamper with the encrypted data
	tampered := make([]byte, len(encrypted))
	copy(tampered, encrypted)
	tampered[len(tampered)-1] ^= 0xFF // Flip bits in last byte

	// Decryption should fail due to authentication tag mismatch
	_, err = cryptox.DecryptKeyMaterial(tampered)
	require.Error(t, err, "decrypting tampered data should fail")
}

func TestDecryptTooShort(t *testing.T) {
	os.Setenv("CASTELLAN_MASTER_KEY", "test-master-key-short")
	t.Cleanup(func() {
		os.Unsetenv("CASTELLAN_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})

	// Data too short to contain nonce
	_, err := cryptox.DecryptKeyMaterial([]byte("short"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "too short")
}

func TestMasterKeyFromFile(t *testing.T) {
	// Create temporary key file
	tmpfile, err := os.CreateTemp("", "masterkey-*.key")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.Write([]byte("file-based-master-key-content-xyz"))
	require.NoError(t, err)
	tmpfile.Close()

	// Reset and configure to use file
	cryptox.ResetMasterKeyForTesting()
	cryptox.SetMasterKeyPath(tmpfile.Name())
	t.Cleanup(func() {
		cryptox.ResetMasterKeyForTesting()
		cryptox.SetMasterKeyPath("")
	})

	testData := []byte("test-data-with-file-key")

	// Encrypt with file-based key
	encrypted, err := cryptox.EncryptKeyMaterial(testData)
	require.NoError(t, err)

	// Decrypt with file-based key
	decrypted, err := cryptox.DecryptKeyMaterial(encrypted)
	require.NoError(t, err)
	require.Equal(t, testData, decrypted)
}

func TestLargeKeyMaterial(t *testing.T) {
	os.Setenv("CASTELLAN_MASTER_KEY", "test-master-key-large")
	t.Cleanup(func() {
		os.Unsetenv("CASTELLAN_MASTER_KEY")
		cryptox.ResetMasterKeyForTesting()
	})

	// A blob well past any realistic key size
	largeKey := make([]byte, 16*1024)
	_, err := rand.Read(largeKey)
	require.NoError(t, err)

	// Encrypt large blob
	encrypted, err := cryptox.EncryptKeyMaterial(largeKey)
	require.NoError(t, err)

	// Decrypt large blob
	decrypted, err := cryptox.DecryptKeyMaterial(encrypted)
	require.NoError(t, err)
	require.Equal(t, largeKey, decrypted)
}
