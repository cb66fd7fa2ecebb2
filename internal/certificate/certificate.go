package certificate

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// ErrHashMismatch is returned when a certificate's content no longer matches its hash.
var ErrHashMismatch = errors.New("certificate content hash mismatch")

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("certificate signature invalid")

// certNamespace scopes certificate IDs derived from job IDs.
var certNamespace = uuid.MustParse("6f1c9a52-3b7e-4d0a-9c1e-5a2f8b7d4e10")

// Generator builds certificates from terminal jobs, optionally signing them.
type Generator struct {
	key   ed25519.PrivateKey
	keyID string
}

// NewGenerator creates a generator. signingKeyHex is a hex Ed25519 seed; empty disables signing.
func NewGenerator(signingKeyHex string) (*Generator, error) {
	g := &Generator{}
	if signingKeyHex == "" {
		return g, nil
	}
	seed, err := hex.DecodeString(signingKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	g.key = ed25519.NewKeyFromSeed(seed)
	g.keyID = KeyID(g.key.Public().(ed25519.PublicKey))
	return g, nil
}

// PublicKey returns the verification key, or nil when signing is disabled.
func (g *Generator) PublicKey() ed25519.PublicKey {
	if g.key == nil {
		return nil
	}
	return g.key.Public().(ed25519.PublicKey)
}

// Generate builds the certificate for a terminal job. The result depends only on the
// job, so generating twice yields the same ID and content hash.
func (g *Generator) Generate(job *domain.Job) (*domain.Certificate, error) {
	return g.build(job, nil)
}

// Supersede builds a correction certificate for the same job that references old.
func (g *Generator) Supersede(old *domain.Certificate, job *domain.Job) (*domain.Certificate, error) {
	if old.JobID != job.ID {
		return nil, fmt.Errorf("supersede: certificate %s belongs to job %s, not %s", old.ID, old.JobID, job.ID)
	}
	id := old.ID
	return g.build(job, &id)
}

func (g *Generator) build(job *domain.Job, supersedes *uuid.UUID) (*domain.Certificate, error) {
	if !job.State.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.State, domain.ErrJobNotTerminal)
	}
	if !job.Certifiable() {
		return nil, fmt.Errorf("job %s: %w", job.ID, domain.ErrJobNotCertifiable)
	}

	outcome := domain.VerificationFailed
	if job.Verification.Passed {
		outcome = domain.VerificationPassed
	}
	finished := job.UpdatedAt
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}

	name := job.ID[:]
	if supersedes != nil {
		name = append(append([]byte(nil), job.ID[:]...), supersedes[:]...)
	}
	cert := &domain.Certificate{
		ID:           uuid.NewSHA1(certNamespace, name),
		JobID:        job.ID,
		Device:       job.Device,
		MethodID:     job.MethodID,
		PassCount:    job.PassesExecuted,
		Verification: outcome,
		SampleCount:  len(job.Verification.SampledOffsets),
		StartedAt:    job.StartedAt.UTC(),
		FinishedAt:   finished.UTC(),
		Supersedes:   supersedes,
	}

	hash, err := ContentHash(cert)
	if err != nil {
		return nil, err
	}
	cert.ContentHash = hash
	if g.key != nil {
		sum, _ := hex.DecodeString(hash)
		cert.Signature = hex.EncodeToString(ed25519.Sign(g.key, sum))
		cert.SignerKeyID = g.keyID
	}
	return cert, nil
}

// payload fixes the field order and time encoding of the hashed content.
type payload struct {
	ID           string                `json:"id"`
	JobID        string                `json:"job_id"`
	Device       domain.DeviceSnapshot `json:"device"`
	MethodID     string                `json:"method_id"`
	PassCount    int                   `json:"pass_count"`
	Verification string                `json:"verification"`
	SampleCount  int                   `json:"sample_count"`
	StartedAt    string                `json:"started_at"`
	FinishedAt   string                `json:"finished_at"`
	Supersedes   string                `json:"supersedes"`
}

// Canonical returns the bytes the content hash is computed over. The signature and
// anchor reference are excluded so neither changes the hash.
func Canonical(c *domain.Certificate) ([]byte, error) {
	p := payload{
		ID:           c.ID.String(),
		JobID:        c.JobID.String(),
		Device:       c.Device,
		MethodID:     c.MethodID,
		PassCount:    c.PassCount,
		Verification: string(c.Verification),
		SampleCount:  c.SampleCount,
		StartedAt:    c.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:   c.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.Supersedes != nil {
		p.Supersedes = c.Supersedes.String()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("canonical certificate: %w", err)
	}
	return b, nil
}

// ContentHash returns the hex SHA-256 of the canonical form.
func ContentHash(c *domain.Certificate) (string, error) {
	b, err := Canonical(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the hash and, when pub is non-nil, checks the signature.
func VerifyIntegrity(c *domain.Certificate, pub ed25519.PublicKey) error {
	hash, err := ContentHash(c)
	if err != nil {
		return err
	}
	if hash != c.ContentHash {
		return ErrHashMismatch
	}
	if pub == nil {
		return nil
	}
	return VerifySignature(c, pub)
}

// VerifySignature checks the Ed25519 signature over the content hash.
func VerifySignature(c *domain.Certificate, pub ed25519.PublicKey) error {
	sig, err := hex.DecodeString(c.Signature)
	if err != nil || c.Signature == "" {
		return ErrBadSignature
	}
	sum, err := hex.DecodeString(c.ContentHash)
	if err != nil {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, sum, sig) {
		return ErrBadSignature
	}
	return nil
}

// KeyID is a short fingerprint of a public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}
