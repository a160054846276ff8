package library

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Small words stay lowercase inside a title unless they open or close it.
var smallTitleWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "to": true, "of": true,
	"in": true, "on": true, "for": true, "at": true, "by": true, "with": true,
	"from": true, "into": true, "over": true, "nor": true, "but": true, "or": true,
	"so": true, "yet": true, "per": true, "vs": true, "via": true,
}

var (
	// two-letter ISO 639-1 code -> English display name
	languageByCode = map[string]string{}
	// lowercased English display name -> display name
	languageByName = map[string]string{}

	personNameRe = regexp.MustCompile(`^\p{Lu}\p{L}*$`)
	digitsOnlyRe = regexp.MustCompile(`^\d+$`)
)

func init() {
	namer := display.English.Languages()
	for a := 'a'; a <= 'z'; a++ {
		for b := 'a'; b <= 'z'; b++ {
			code := string([]rune{a, b})
			base, err := language.ParseBase(code)
			if err != nil {
				continue
			}
			name := namer.Name(base)
			if name == "" {
				continue
			}
			languageByCode[code] = name
			languageByName[strings.ToLower(name)] = name
		}
	}
}

// NormalizeTitle title-cases raw: whitespace collapsed, hyphenated parts
// capitalised independently, small words lowercased unless they belong to the
// first or last word. Only the first rune of a part is changed otherwise.
func NormalizeTitle(raw string) string {
	words := strings.Fields(raw)
	for i, w := range words {
		forceCap := i == 0 || i == len(words)-1
		parts := strings.Split(w, "-")
		for p, part := range parts {
			if part == "" {
				continue
			}
			lower := strings.ToLower(part)
			if smallTitleWords[lower] && !forceCap {
				parts[p] = lower
				continue
			}
			r, size := utf8.DecodeRuneInString(part)
			parts[p] = string(unicode.ToUpper(r)) + part[size:]
		}
		words[i] = strings.Join(parts, "-")
	}
	return strings.Join(words, " ")
}

// NormalizeISBN strips every non-digit.
func NormalizeISBN(raw string) string {
	var sb strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// IsISBN13 reports whether raw has exactly 13 digits once separators are removed.
func IsISBN13(raw string) bool { return len(NormalizeISBN(raw)) == 13 }

// CanonicalLanguage resolves an ISO 639-1 code or an English language name,
// case-insensitively, to the English display name.
func CanonicalLanguage(input string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(input))
	if k == "" {
		return "", false
	}
	if name, ok := languageByCode[k]; ok {
		return name, true
	}
	name, ok := languageByName[k]
	return name, ok
}

func startsWithUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s))
	return unicode.IsLetter(r) && unicode.IsUpper(r)
}

func ruleFunc(ok func(string) bool, msg string) validation.Rule {
	return validation.By(func(value any) error {
		s, _ := value.(string)
		if s == "" || ok(s) {
			return nil
		}
		return errors.New(msg)
	})
}

const (
	msgTitleRequired   = "please enter a book title"
	msgTitleUpper      = "title must start with an uppercase letter"
	msgISBN            = "ISBN must be exactly 13 digits (you can omit hyphens)"
	msgLanguage        = "language must be a real world language (e.g., English, Spanish, French)"
	msgSummaryRequired = "please enter a book summary"
	msgSummaryUpper    = "summary must start with an uppercase letter"
	msgCopies          = "copies must be a positive whole number (at least 1)"
	msgPublisher       = "please select a publisher"
	msgYear            = "publication year must be between 1000 and 2030"
	msgAuthors         = "please add at least one author"
	msgGenres          = "please add at least one genre"

	minPublicationYear = 1000
	maxPublicationYear = 2030
)

// normalizeBookForm validates f and returns the normalised copy that gets stored.
func normalizeBookForm(f BookForm) (BookForm, error) {
	f.Title = strings.TrimSpace(f.Title)
	f.Summary = strings.TrimSpace(f.Summary)
	f.ISBN = strings.TrimSpace(f.ISBN)
	f.Language = strings.TrimSpace(f.Language)

	err := validation.ValidateStruct(&f,
		validation.Field(&f.Title,
			validation.Required.Error(msgTitleRequired),
			ruleFunc(startsWithUpper, msgTitleUpper),
		),
		validation.Field(&f.ISBN,
			validation.Required.Error(msgISBN),
			ruleFunc(IsISBN13, msgISBN),
		),
		validation.Field(&f.Language,
			validation.Required.Error(msgLanguage),
			ruleFunc(func(s string) bool { _, ok := CanonicalLanguage(s); return ok }, msgLanguage),
		),
		validation.Field(&f.Summary,
			validation.Required.Error(msgSummaryRequired),
			ruleFunc(startsWithUpper, msgSummaryUpper),
		),
		validation.Field(&f.Copies,
			validation.Required.Error(msgCopies),
			validation.Min(1).Error(msgCopies),
		),
		validation.Field(&f.PublisherID,
			validation.Required.Error(msgPublisher),
			validation.Min(int64(1)).Error(msgPublisher),
		),
		validation.Field(&f.PublicationYear, validation.By(func(value any) error {
			y, _ := value.(*int)
			if y != nil && (*y < minPublicationYear || *y > maxPublicationYear) {
				return errors.New(msgYear)
			}
			return nil
		})),
		validation.Field(&f.Authors,
			validation.Required.Error(msgAuthors),
			validation.By(func(value any) error {
				for _, a := range f.Authors {
					if strings.TrimSpace(a.FullName) == "" {
						return errors.New("author name cannot be empty")
					}
				}
				return nil
			}),
		),
		validation.Field(&f.Genres,
			validation.Required.Error(msgGenres),
			validation.By(func(value any) error {
				for _, g := range f.Genres {
					if strings.TrimSpace(g.Name) == "" {
						return errors.New("genre name cannot be empty")
					}
				}
				return nil
			}),
		),
	)
	if err != nil {
		return f, asValidationError(err)
	}

	f.Title = NormalizeTitle(f.Title)
	f.ISBN = NormalizeISBN(f.ISBN)
	f.Language, _ = CanonicalLanguage(f.Language)
	for i := range f.Authors {
		f.Authors[i].FullName = strings.TrimSpace(f.Authors[i].FullName)
	}
	for i := range f.Genres {
		f.Genres[i].Name = strings.TrimSpace(f.Genres[i].Name)
	}
	return f, nil
}

// CustomerForm is the manager's self-service registration payload.
type CustomerForm struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

const (
	msgUsernameRequired = "please enter a username"
	msgUsernameNumeric  = "username cannot be numbers only"
	msgUsernameTaken    = "this username is already taken"
	msgPasswordRequired = "please enter a password"
	msgFirstName        = "first name must start with an uppercase letter and contain letters only"
	msgLastName         = "last name must start with an uppercase letter and contain letters only"
	msgEmail            = "email must end with @gmail.com"
)

func isGmail(s string) bool { return strings.HasSuffix(strings.ToLower(s), "@gmail.com") }

func normalizeCustomerForm(f CustomerForm) (CustomerForm, error) {
	f.Username = strings.TrimSpace(f.Username)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Email = strings.TrimSpace(f.Email)

	err := validation.ValidateStruct(&f,
		validation.Field(&f.Username,
			validation.Required.Error(msgUsernameRequired),
			ruleFunc(func(s string) bool { return !digitsOnlyRe.MatchString(s) }, msgUsernameNumeric),
		),
		validation.Field(&f.Password, validation.Required.Error(msgPasswordRequired)),
		validation.Field(&f.FirstName,
			validation.Required.Error(msgFirstName),
			validation.Match(personNameRe).Error(msgFirstName),
		),
		validation.Field(&f.LastName,
			validation.Required.Error(msgLastName),
			validation.Match(personNameRe).Error(msgLastName),
		),
		validation.Field(&f.Email,
			validation.Required.Error(msgEmail),
			ruleFunc(isGmail, msgEmail),
		),
	)
	return f, asValidationError(err)
}

// UserForm is the admin's account creation payload for any role.
type UserForm struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

func normalizeUserForm(f UserForm) (UserForm, error) {
	f.Username = strings.TrimSpace(f.Username)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Email = strings.TrimSpace(f.Email)
	f.Role = Role(strings.ToUpper(strings.TrimSpace(string(f.Role))))

	err := validation.ValidateStruct(&f,
		validation.Field(&f.Username, validation.Required.Error(msgUsernameRequired)),
		validation.Field(&f.Password, validation.Required.Error(msgPasswordRequired)),
		validation.Field(&f.Role,
			validation.Required.Error("please select a role"),
			validation.By(func(value any) error {
				if r, _ := value.(Role); r != "" && !r.IsValid() {
					return errors.New("role must be ADMIN, MANAGER or CLIENT")
				}
				return nil
			}),
		),
	)
	return f, asValidationError(err)
}
