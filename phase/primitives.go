package phase

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type primitiveCheck func(value any) error

// primitiveChecks validate the JSON form of each primitive type.
var primitiveChecks = map[string]primitiveCheck{
	"boolean":      checkBoolean,
	"integer":      checkInteger,
	"unsignedInt":  checkRangedInteger(0),
	"positiveInt":  checkRangedInteger(1),
	"decimal":      checkDecimal,
	"string":       checkString,
	"markdown":     checkString,
	"code":         matchString("code", codeRegex),
	"id":           matchString("id", idRegex),
	"uri":          checkURI,
	"url":          checkURI,
	"canonical":    matchString("canonical", canonicalRegex),
	"oid":          matchString("oid", oidRegex),
	"uuid":         matchString("uuid", uuidRegex),
	"date":         matchString("date", dateRegex),
	"dateTime":     matchString("dateTime", dateTimeRegex),
	"instant":      matchString("instant", instantRegex),
	"time":         matchString("time", timeRegex),
	"base64Binary": matchString("base64Binary", base64Regex),
}

// checkPrimitive validates value as a typ. Unknown types pass.
func checkPrimitive(typ string, value any) error {
	check, ok := primitiveChecks[typ]
	if !ok || value == nil {
		return nil
	}
	return check(value)
}

func checkBoolean(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("value must be a boolean, got %s", jsonKind(value))
	}
	return nil
}

func checkInteger(value any) error {
	f, ok := value.(float64)
	if !ok {
		return fmt.Errorf("value must be a number, got %s", jsonKind(value))
	}
	if f != float64(int32(f)) {
		return fmt.Errorf("value must be a 32-bit integer, got %v", f)
	}
	return nil
}

func checkRangedInteger(floor int32) primitiveCheck {
	return func(value any) error {
		if err := checkInteger(value); err != nil {
			return err
		}
		if f := value.(float64); f < float64(floor) {
			return fmt.Errorf("value must be at least %d, got %v", floor, f)
		}
		return nil
	}
}

func checkDecimal(value any) error {
	switch v := value.(type) {
	case float64:
		return nil
	case string:
		if !decimalRegex.MatchString(v) {
			return fmt.Errorf("invalid decimal format: %s", v)
		}
		return nil
	default:
		return fmt.Errorf("decimal must be a number, got %s", jsonKind(value))
	}
}

func checkString(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("value must be a string, got %s", jsonKind(value))
	}
	if !utf8.ValidString(s) {
		return errors.New("string contains invalid UTF-8")
	}
	if strings.TrimSpace(s) == "" {
		return errors.New("string must not be empty or blank")
	}
	return nil
}

func checkURI(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("value must be a string, got %s", jsonKind(value))
	}
	if s == "" || strings.ContainsAny(s, " \t\n\r") {
		return fmt.Errorf("invalid uri: %q", s)
	}
	return nil
}

func matchString(typ string, re *regexp.Regexp) primitiveCheck {
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("value must be a string, got %s", jsonKind(value))
		}
		if !re.MatchString(s) {
			return fmt.Errorf("invalid %s format: %q", typ, s)
		}
		return nil
	}
}

func jsonKind(value any) string {
	switch value.(type) {
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", value)
	}
}

var (
	decimalRegex   = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?([eE][+-]?\d+)?$`)
	canonicalRegex = regexp.MustCompile(`^\S+(\|\S+)?$`)
	codeRegex      = regexp.MustCompile(`^\S+( \S+)*$`)
	idRegex        = regexp.MustCompile(`^[A-Za-z0-9\-.]{1,64}$`)
	oidRegex       = regexp.MustCompile(`^urn:oid:[012](\.(0|[1-9]\d*))+$`)
	uuidRegex      = regexp.MustCompile(`^urn:uuid:[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	base64Regex    = regexp.MustCompile(`^(\s*([0-9a-zA-Z+/=]){4}\s*)+$`)
	instantRegex   = regexp.MustCompile(`^(\d{4})-(0[1-9]|1[012])-(0[1-9]|[12]\d|3[01])T([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?(Z|[+-]((0\d|1[0-3]):[0-5]\d|14:00))$`)
	dateRegex      = regexp.MustCompile(`^(\d{4})(-(0[1-9]|1[012])(-(0[1-9]|[12]\d|3[01]))?)?$`)
	dateTimeRegex  = regexp.MustCompile(`^(\d{4})(-(0[1-9]|1[012])(-(0[1-9]|[12]\d|3[01])(T([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?(Z|[+-]((0\d|1[0-3]):[0-5]\d|14:00))?)?)?)?$`)
	timeRegex      = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d:([0-5]\d|60)(\.\d+)?$`)
)
