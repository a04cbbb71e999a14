package retention

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificates stay valid for the UK statutory limitation period.
const certificateValidityYears = 6

// Issuer mints Secure Deletion Certificates. It is the only writer of
// certificate rows; the sweep persists its output inside the same unit of
// work as the terminal transition.
type Issuer struct {
	signingKey ed25519.PrivateKey
	witness    string
}

// NewIssuer builds an issuer. signingKey may be nil, in which case
// certificates carry no digital signature; witness may be empty.
func NewIssuer(signingKey ed25519.PrivateKey, witness string) *Issuer {
	return &Issuer{signingKey: signingKey, witness: witness}
}

// Issue converts a completed erase into a certificate. userID is set only
// when the whole batch belonged to one user.
func (i *Issuer) Issue(result *ErasureResult, orgID, userID, legalBasis, requestOrigin string, dataTypes []string, now time.Time) (*DeletionCertificate, error) {
	number, err := certificateNumber(now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateIssuance, err)
	}

	cert := &DeletionCertificate{
		CertificateNumber: number,
		OrgID:             orgID,
		UserID:            userID,
		DataTypes:         dataTypes,
		RecordCount:       result.RecordCount,
		EraseMethod:       result.Method,
		DeletionStartedAt: result.StartedAt,
		DeletionEndedAt:   result.EndedAt,
		ManifestHash:      result.ManifestHash,
		Witness:           i.witness,
		LegalBasis:        legalBasis,
		RequestOrigin:     requestOrigin,
		ValidFrom:         now,
		ValidUntil:        now.AddDate(certificateValidityYears, 0, 0),
	}
	if i.signingKey != nil {
		sig := ed25519.Sign(i.signingKey, []byte(result.ManifestHash))
		cert.Signature = base64.StdEncoding.EncodeToString(sig)
	}
	return cert, nil
}

// Verify checks a certificate's signature against the issuer's key. Unsigned
// certificates verify only when the issuer has no key configured.
func (i *Issuer) Verify(cert *DeletionCertificate) bool {
	if i.signingKey == nil {
		return cert.Signature == ""
	}
	sig, err := base64.StdEncoding.DecodeString(cert.Signature)
	if err != nil {
		return false
	}
	pub, ok := i.signingKey.Public().(ed25519.PublicKey)
	if !ok {
		return false
	}
	return ed25519.Verify(pub, []byte(cert.ManifestHash), sig)
}

// RenderPDF writes the human-readable certificate document.
func (i *Issuer) RenderPDF(cert *DeletionCertificate, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Secure Deletion Certificate")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Certificate number: %s", cert.CertificateNumber))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Organisation: %s", cert.OrgID))
	pdf.Ln(7)
	if cert.UserID != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Data subject: %s", cert.UserID))
		pdf.Ln(7)
	}
	pdf.Cell(0, 8, fmt.Sprintf("Data types: %s", strings.Join(cert.DataTypes, ", ")))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Records erased: %d", cert.RecordCount))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Erase method: %s", cert.EraseMethod))
	pdf.Ln(7)
	pdf.Cell(0, 8, fmt.Sprintf("Deletion window: %s to %s",
		cert.DeletionStartedAt.Format(time.RFC3339), cert.DeletionEndedAt.Format(time.RFC3339)))
	pdf.Ln(7)
	if cert.LegalBasis != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Legal basis: %s", cert.LegalBasis))
		pdf.Ln(7)
	}
	if cert.Witness != "" {
		pdf.Cell(0, 8, fmt.Sprintf("Witness: %s", cert.Witness))
		pdf.Ln(7)
	}
	pdf.Ln(3)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Manifest hash (SHA-256): %s", cert.ManifestHash))
	pdf.Ln(5)
	if cert.Signature != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Signature (Ed25519): %s", cert.Signature))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Valid %s to %s",
		cert.ValidFrom.Format("2006-01-02"), cert.ValidUntil.Format("2006-01-02")))

	return pdf.Output(w)
}

func certificateNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("SDC-%d-%s", now.Year(), hex.EncodeToString(buf)), nil
}
