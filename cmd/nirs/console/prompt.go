package console

import (
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

var yesNoConstraints = []string{"y", "n"}

type lineReader interface {
	Readline() (string, error)
	Close() error
}

var newReader = func(prompt string) (lineReader, error) {
	return readline.New(prompt)
}

func YesOrNo(question string) (string, error) {
	return Prompt(question, yesNoConstraints...)
}

// Confirm asks a yes/no question that defaults to no.
func Confirm(question string) (bool, error) {
	answer, err := Prompt(question, No, Yes)
	if err != nil {
		return false, err
	}
	return answer == Yes, nil
}

func Prompt(question string, constraints ...string) (string, error) {
	if len(constraints) == 0 {
		rl, err := newReader(question)
		if err != nil {
			return "", err
		}
		defer func() { _ = rl.Close() }()
		return rl.Readline()
	}
	def := strings.ToUpper(constraints[0])
	var prompt strings.Builder
	prompt.WriteString(question)
	prompt.WriteString(" [")
	prompt.WriteString(def)
	for i := 1; i < len(constraints); i++ {
		prompt.WriteString("/")
		prompt.WriteString(constraints[i])
	}
	prompt.WriteString("]:")
	rl, err := newReader(prompt.String())
	if err != nil {
		return "", err
	}
	defer func() { _ = rl.Close() }()
	response, err := rl.Readline()
	if err != nil {
		return "", err
	}
	// return default on no input
	if response == "" {
		return constraints[0], nil
	}
	normalized := strings.ToLower(response)
	for _, c := range constraints {
		if normalized == c {
			return normalized, nil
		}
	}
	// no constraint matched, return default
	return constraints[0], nil
}
