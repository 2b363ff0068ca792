package parser

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/examcards/internal/domain"
)

const (
	frontPrefix   = "Q:"
	backPrefix    = "A:"
	topicPrefix   = "T:"
	contextPrefix = "C:" // accepted as a topic for older decks
	separator     = "---"
)

type state int

const (
	seeking state = iota
	readingFront
	readingBack
	readingTopic
)

// ParseFile reads a deck from the given path and extracts all cards.
// Every card is assigned to the exam named by the file.
func ParseFile(path string) ([]domain.Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cards, err := Parse(file)
	if err != nil {
		return nil, err
	}
	examID := ExamIDFromPath(path)
	for i := range cards {
		cards[i].ExamID = examID
	}
	return cards, nil
}

// ExamIDFromPath derives an exam id from a deck file name: "decks/FL-2-15.md" -> "fl-2-15".
func ExamIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

// Parse reads from an io.Reader and extracts all cards.
// A card needs both a front and a back; incomplete blocks are dropped.
func Parse(r io.Reader) ([]domain.Card, error) {
	scanner := bufio.NewScanner(r)
	var cards []domain.Card
	var currentCard domain.Card
	var currentBlock []string
	currentState := seeking

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(currentBlock, "\n"), "\n")
		switch currentState {
		case readingFront:
			currentCard.Front = content
		case readingBack:
			currentCard.Back = content
		case readingTopic:
			currentCard.Topic = strings.TrimSpace(content)
		}
		currentBlock = nil
	}

	finishCard := func() {
		flushBlock()
		if currentCard.Front != "" && currentCard.Back != "" {
			cards = append(cards, currentCard)
		}
		currentCard = domain.Card{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == separator {
			finishCard()
			continue
		}

		next, content, ok := classify(line)
		if !ok {
			if currentState != seeking {
				currentBlock = append(currentBlock, line)
			}
			continue
		}

		if next == readingFront && currentState != seeking {
			finishCard() // A new question always starts a new card
		} else {
			flushBlock()
		}
		currentState = next
		currentBlock = append(currentBlock, content)
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return cards, nil
}

// classify reports which field a prefixed line starts and the text after the prefix.
func classify(line string) (state, string, bool) {
	for _, p := range []struct {
		prefix string
		state  state
	}{
		{frontPrefix, readingFront},
		{backPrefix, readingBack},
		{topicPrefix, readingTopic},
		{contextPrefix, readingTopic},
	} {
		if strings.HasPrefix(line, p.prefix) {
			return p.state, strings.TrimPrefix(line[len(p.prefix):], " "), true
		}
	}
	return seeking, "", false
}
