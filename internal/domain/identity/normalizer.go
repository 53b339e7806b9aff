package identity

import (
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NORMALIZER
// Канонизация и хэширование идентифицирующих полей. Чистые функции:
// некорректный ввод отклоняется до хэширования.
// ══════════════════════════════════════════════════════════════════════════════

// Национальный мобильный формат: 01X + 7-8 цифр.
var nationalMobile = regexp.MustCompile(`^01[016789][0-9]{7,8}$`)

const (
	countryCode     = "82"
	maxPhoneDigits  = 15 // E.164
	domainPhone     = "phone:"
	domainEmail     = "email:"
	domainName      = "name:"
	maxEmailLength  = 254
	maxLocalPartLen = 64
)

// NormalizePhone приводит телефон к каноническим цифрам национального формата.
// Разделители, пробелы и скобки отбрасываются; международный префикс 82
// заменяется на ведущий 0; номер без ведущего 0 дополняется.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" || len(digits) > maxPhoneDigits {
		return "", shared.ErrInvalidPhoneFormat
	}

	// +82 10-1234-5678, 0082..., 82 010 1234 5678
	digits = strings.TrimPrefix(digits, "00")
	if strings.HasPrefix(digits, countryCode) && len(digits) >= 11 {
		digits = "0" + strings.TrimPrefix(strings.TrimPrefix(digits, countryCode), "0")
	}
	if strings.HasPrefix(digits, "1") && (len(digits) == 9 || len(digits) == 10) {
		digits = "0" + digits
	}

	if !nationalMobile.MatchString(digits) {
		return "", shared.ErrInvalidPhoneFormat
	}
	return digits, nil
}

// NormalizeEmail приводит email к нижнему регистру без внешних пробелов
// и проверяет наличие домена с точкой.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > maxEmailLength {
		return "", shared.ErrInvalidEmailFormat
	}
	if strings.ContainsFunc(email, unicode.IsSpace) {
		return "", shared.ErrInvalidEmailFormat
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "", shared.ErrInvalidEmailFormat
	}
	if local == "" || len(local) > maxLocalPartLen {
		return "", shared.ErrInvalidEmailFormat
	}
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 || strings.HasPrefix(domain, ".") || strings.Contains(domain, "..") {
		return "", shared.ErrInvalidEmailFormat
	}
	return email, nil
}

// NormalizeName приводит заявленное имя к сравнимому виду: нижний регистр,
// пунктуация и пробелы сводятся к одиночному пробелу. Для сопоставления не используется.
func NormalizeName(raw string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// HASHER
// ══════════════════════════════════════════════════════════════════════════════

// Hasher вычисляет ключевой BLAKE2b-256 от нормализованного значения.
// Ключ (pepper) хранится только на сервере, поэтому хэши телефонов нельзя
// перебрать по словарю без него.
type Hasher struct {
	key []byte
}

// NewHasher создаёт Hasher. Ключ длиннее 64 байт blake2b не принимает.
func NewHasher(pepper []byte) (*Hasher, error) {
	if len(pepper) > blake2b.Size {
		return nil, shared.NewDomainError("identity", "NewHasher", shared.ErrInvalidInput, "pepper must be at most 64 bytes")
	}
	return &Hasher{key: append([]byte(nil), pepper...)}, nil
}

func (h *Hasher) sum(domain, value string) shared.Hash {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// ключ проверен в NewHasher
		panic(err)
	}
	mac.Write([]byte(domain))
	mac.Write([]byte(value))
	return shared.Hash(hex.EncodeToString(mac.Sum(nil)))
}

// Phone хэширует уже нормализованный телефон.
func (h *Hasher) Phone(normalized string) shared.Hash {
	return h.sum(domainPhone, normalized)
}

// Email хэширует уже нормализованный email.
func (h *Hasher) Email(normalized string) shared.Hash {
	return h.sum(domainEmail, normalized)
}

// Name хэширует нормализованное имя. Пустое имя даёт пустой хэш.
func (h *Hasher) Name(normalized string) shared.Hash {
	if normalized == "" {
		return ""
	}
	return h.sum(domainName, normalized)
}

// Equal сравнивает хэши за постоянное время.
func Equal(a, b shared.Hash) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Hashes - результат нормализации одного RawProfile.
type Hashes struct {
	Phone   shared.Hash
	Email   shared.Hash // пусто, если email не передан
	Context shared.Hash // пусто, если имя не передано
}

// Normalizer объединяет нормализацию и хэширование.
type Normalizer struct {
	hasher *Hasher
}

// NewNormalizer создаёт Normalizer поверх Hasher.
func NewNormalizer(hasher *Hasher) *Normalizer {
	return &Normalizer{hasher: hasher}
}

// Hash нормализует и хэширует поля профиля. Телефон обязателен,
// email и имя - нет. При любой ошибке хэши не вычисляются.
func (n *Normalizer) Hash(rawPhone, rawEmail, declaredName string) (Hashes, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return Hashes{}, err
	}
	var email string
	if strings.TrimSpace(rawEmail) != "" {
		if email, err = NormalizeEmail(rawEmail); err != nil {
			return Hashes{}, err
		}
	}

	out := Hashes{
		Phone:   n.hasher.Phone(phone),
		Context: n.hasher.Name(NormalizeName(declaredName)),
	}
	if email != "" {
		out.Email = n.hasher.Email(email)
	}
	return out, nil
}
