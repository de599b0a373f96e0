package config

const redacted = "[REDACTED]"

// Secret is a string that redacts itself when printed or marshaled.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"` + redacted + `"`
}

// MarshalYAML redacts the value in Config.String output.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redacted, nil
}

// Reveal returns the raw value.
func (s Secret) Reveal() string {
	return string(s)
}
