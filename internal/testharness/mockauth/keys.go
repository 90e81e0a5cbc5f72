package mockauth

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
)

var (
	keysOnce   sync.Once
	authKey    *rsa.PrivateKey
	entityKey  *rsa.PrivateKey
	strangerKy *rsa.PrivateKey
	keysErr    error
)

// TestKeys returns process-wide 2048-bit keys for the Auth, the entity and
// an unrelated party. Generating RSA keys is slow, so tests share them.
func TestKeys() (auth, entity, stranger *rsa.PrivateKey, err error) {
	keysOnce.Do(func() {
		if authKey, keysErr = rsa.GenerateKey(rand.Reader, 2048); keysErr != nil {
			return
		}
		if entityKey, keysErr = rsa.GenerateKey(rand.Reader, 2048); keysErr != nil {
			return
		}
		strangerKy, keysErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	return authKey, entityKey, strangerKy, keysErr
}
