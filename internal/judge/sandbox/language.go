package sandbox

import (
	"strings"

	appErr "judged/pkg/errors"
)

// Language describes how one language compiles and runs inside a box.
// Command templates use {input}, {output}, {executable} and {classname}
// placeholders resolved against box-relative file names.
type Language struct {
	ID         string
	Name       string
	SourceFile string
	Executable string
	Classname  string
	CompileCmd string // empty for interpreted languages
	ExecuteCmd string
}

// Compiled reports whether the language has a compile step.
func (l Language) Compiled() bool {
	return l.CompileCmd != ""
}

// CompileArgs expands the compile command template into argv.
func (l Language) CompileArgs() []string {
	return expandTemplate(l.CompileCmd, l)
}

// ExecuteArgs expands the execute command template into argv.
func (l Language) ExecuteArgs() []string {
	return expandTemplate(l.ExecuteCmd, l)
}

func expandTemplate(tmpl string, l Language) []string {
	r := strings.NewReplacer(
		"{input}", l.SourceFile,
		"{output}", l.Executable,
		"{executable}", l.Executable,
		"{classname}", l.Classname,
	)
	return strings.Fields(r.Replace(tmpl))
}

var registry = map[string]Language{
	"cpp": {
		ID:         "cpp",
		Name:       "C++ 17",
		SourceFile: "main.cpp",
		Executable: "main",
		CompileCmd: "/usr/bin/g++ -O2 -std=c++17 -o {output} {input}",
		ExecuteCmd: "./{executable}",
	},
	"c": {
		ID:         "c",
		Name:       "C 11",
		SourceFile: "main.c",
		Executable: "main",
		CompileCmd: "/usr/bin/gcc -O2 -std=c11 -o {output} {input}",
		ExecuteCmd: "./{executable}",
	},
	"java": {
		ID:         "java",
		Name:       "Java",
		SourceFile: "Main.java",
		Classname:  "Main",
		CompileCmd: "/usr/bin/javac {input}",
		ExecuteCmd: "/usr/bin/java {classname}",
	},
	"python": {
		ID:         "python",
		Name:       "Python 3",
		SourceFile: "main.py",
		ExecuteCmd: "/usr/bin/python3 {input}",
	},
	"go": {
		ID:         "go",
		Name:       "Go",
		SourceFile: "main.go",
		Executable: "main",
		CompileCmd: "/usr/bin/go build -o {output} {input}",
		ExecuteCmd: "./{executable}",
	},
}

// GetLanguage resolves a language tag from the registry.
func GetLanguage(id string) (Language, error) {
	lang, ok := registry[id]
	if !ok {
		return Language{}, appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", id)
	}
	return lang, nil
}

// SupportedLanguages returns the registered language tags.
func SupportedLanguages() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
