package params

import "regexp"

// A Declaration is one parameter announcement found in streamed sketch
// output, e.g. `fart: const MAX_DEPTH: u32 = 6;`.
type Declaration struct {
	Name  string
	Type  string
	Value string
}

var declPattern = regexp.MustCompile(`fart: const ([\w_]+): ([\w_]+) = (.*?);`)

// ScanDeclarations extracts every declaration found in one chunk of streamed
// text. The chunk is not assumed to be a complete line or well-formed; text
// that does not match is ordinary log content. The scanner is stateless, so
// a declaration split across two chunks is not recognized.
func ScanDeclarations(chunk string) []Declaration {
	matches := declPattern.FindAllStringSubmatch(chunk, -1)
	if len(matches) == 0 {
		return nil
	}
	decls := make([]Declaration, 0, len(matches))
	for _, match := range matches {
		decls = append(decls, Declaration{
			Name:  match[1],
			Type:  match[2],
			Value: match[3],
		})
	}
	return decls
}
