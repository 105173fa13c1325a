package seal

// Box is a passphrase-sealed payload together with what is needed to open it.
type Box struct {
	Algorithm  Algorithm `json:"alg"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Ciphertext []byte    `json:"ct"`
}

// SealPassphrase encrypts plaintext under a key derived from passphrase and a
// fresh salt. aad is authenticated but not stored.
func SealPassphrase(params KDFParams, passphrase, plaintext, aad []byte) (*Box, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	key := params.DeriveKey(passphrase, salt)
	defer Zero(key)

	algo := Preferred()
	ct, err := SealWithKey(algo, key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return &Box{Algorithm: algo, KDF: params, Salt: salt, Ciphertext: ct}, nil
}

// Open decrypts the box. Any failure, including malformed parameters, yields
// ErrOpenFailed.
func (b *Box) Open(passphrase, aad []byte) ([]byte, error) {
	if b == nil || b.KDF.Validate() != nil || len(b.Salt) == 0 {
		return nil, ErrOpenFailed
	}
	key := b.KDF.DeriveKey(passphrase, b.Salt)
	defer Zero(key)
	return OpenWithKey(b.Algorithm, key, b.Ciphertext, aad)
}
