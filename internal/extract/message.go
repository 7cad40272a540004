package extract

import "strings"

const (
	// DefaultChunkSize is the largest number of characters sent in one user turn.
	DefaultChunkSize = 25000

	// SystemPrompt opens every conversation.
	SystemPrompt = "You are a helpful assistant."
)

// DefaultInstruction asks for the company profile fields as bare JSON.
const DefaultInstruction = "Extract the following information in JSON format: Company Name, Employee Count, " +
	"Founder LinkedIn Links, Products, and Sectors. For Founder LinkedIn Links, ensure you find the official " +
	"LinkedIn profiles of the founders. Verify the accuracy of the LinkedIn links for founders by checking their " +
	"names and roles. Ensure the products and sectors are correctly identified. Exclude any information if it is " +
	"uncertain or ambiguous, and translate any non-English information into English. If you are unsure about any " +
	"detail, omit it from the response. Your output should only be valid JSON, do not include any other text."

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Chunk splits text into consecutive pieces of at most size characters.
// It returns ceil(len/size) chunks whose concatenation is text; empty text yields none.
// A non-positive size selects DefaultChunkSize.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := []string{}
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}

// BuildMessages lays out the conversation: the system turn, one user turn per chunk
// of text in order, then the instruction as the final user turn.
func BuildMessages(text string, instruction string, chunkSize int) []Message {
	chunks := Chunk(text, chunkSize)

	messages := make([]Message, 0, len(chunks)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: SystemPrompt})
	for _, chunk := range chunks {
		messages = append(messages, Message{Role: RoleUser, Content: chunk})
	}

	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}

	return append(messages, Message{Role: RoleUser, Content: instruction})
}
