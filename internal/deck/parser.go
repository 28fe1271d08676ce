// Package deck imports flashcard decks from markdown files into the card
// store. A deck file is a sequence of Q:/A: blocks, optionally separated by
// "---" lines; entries are deduplicated by a normalized content hash so
// re-importing a source never creates duplicate cards.
package deck

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Entry is one question-answer pair parsed from a deck file.
type Entry struct {
	Question string
	Answer   string
}

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
)

type parseState int

const (
	seeking parseState = iota
	readingQuestion
	readingAnswer
)

// ParseFile reads a deck file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all entries. A new Q: line or
// a "---" separator closes the current entry; lines between prefixes are
// appended to the block being read, so questions and answers may span
// multiple lines. Entries without both a question and an answer are dropped.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	var current Entry
	var block []string
	state := seeking

	closeBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.Join(block, "\n")
		switch state {
		case readingQuestion:
			current.Question = content
		case readingAnswer:
			current.Answer = content
		}
		block = nil
	}

	finishEntry := func() {
		closeBlock()
		if current.Question != "" && current.Answer != "" {
			entries = append(entries, current)
		}
		current = Entry{}
		state = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "---" {
			finishEntry()
			continue
		}

		isQ := strings.HasPrefix(line, questionPrefix)
		isA := strings.HasPrefix(line, answerPrefix)

		switch {
		case isQ:
			if state != seeking {
				finishEntry()
			} else {
				closeBlock()
			}
			state = readingQuestion
			block = append(block, trimPrefix(line, questionPrefix))
		case isA:
			closeBlock()
			state = readingAnswer
			block = append(block, trimPrefix(line, answerPrefix))
		case state != seeking:
			block = append(block, line)
		}
	}

	finishEntry()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// trimPrefix drops the field prefix and one optional following space.
func trimPrefix(line, prefix string) string {
	content := line[len(prefix):]
	if strings.HasPrefix(content, " ") {
		content = content[1:]
	}
	return content
}
