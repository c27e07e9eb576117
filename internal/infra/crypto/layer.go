package crypto

// Layer is the integrity and encryption step of the document pipeline. With
// a nil sealer it runs in plaintext mode: artifacts are hashed but stored as is.
type Layer struct {
	sealer *Sealer
}

func NewLayer(sealer *Sealer) *Layer {
	return &Layer{sealer: sealer}
}

func (l *Layer) Hash(data []byte) string {
	return HashHex(data)
}

// Seal encrypts data when a key is configured and reports whether it did.
func (l *Layer) Seal(data []byte) ([]byte, bool, error) {
	if l == nil || l.sealer == nil {
		return data, false, nil
	}
	out, err := l.sealer.Seal(data)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (l *Layer) Verify(stored []byte, expectedHash string, sealed bool) (bool, error) {
	var sealer *Sealer
	if l != nil {
		sealer = l.sealer
	}
	return Verify(stored, expectedHash, sealed, sealer)
}

func (l *Layer) Encrypting() bool {
	return l != nil && l.sealer != nil
}

// Open returns the plaintext of a stored artifact.
func (l *Layer) Open(stored []byte, sealed bool) ([]byte, error) {
	if !sealed {
		return stored, nil
	}
	if l == nil || l.sealer == nil {
		return nil, ErrKeyMissing
	}
	return l.sealer.Open(stored)
}

// Algorithm names the digest behind Hash.
func (l *Layer) Algorithm() string {
	return HashAlgorithm
}
