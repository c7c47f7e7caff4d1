package store

import (
	"time"

	"github.com/google/uuid"
)

// Document is a logical source file. Mutated only by re-ingestion, which
// re-creates chunks but preserves identity when (UniverseID, SourcePath)
// matches an existing row.
type Document struct {
	ID          uuid.UUID
	UniverseID  *uuid.UUID
	Title       string
	SourcePath  string
	Content     string
	ContentHash string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentImage is one image the parser service extracted from a document,
// captioned by the vision LLM during ingestion's image-extraction phase.
// Chunks associate with it transitively, by sharing its PageNumber.
type DocumentImage struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	PageNumber  int
	MIMEType    string
	Description string
	OCRText     string
	Width       int
	Height      int
	CreatedAt   time.Time
}

// ChunkLevel enumerates the hierarchical role of a chunk.
type ChunkLevel string

const (
	ChunkLevelParent    ChunkLevel = "parent"
	ChunkLevelChild     ChunkLevel = "child"
	ChunkLevelUnlabeled ChunkLevel = "unlabeled"
)

// Chunk is a contiguous, self-contained passage derived from a document.
type Chunk struct {
	ID               uuid.UUID
	DocumentID       uuid.UUID
	ChunkIndex       int
	Content          string
	TokenCount       int
	Embedding        []float32 // nil for parent chunks and during in-flight ingestion; never loaded by the store's read queries
	SectionHierarchy []string
	HeadingContext   string
	DocumentPosition float64
	PrevChunkID      *uuid.UUID
	NextChunkID      *uuid.UUID
	ParentChunkID    *uuid.UUID
	ChunkLevel       ChunkLevel
	Metadata         map[string]string
}

// ChunkQualityScore is 1:1 with a chunk.
type ChunkQualityScore struct {
	ChunkID         uuid.UUID
	PositiveCount   int
	NegativeCount   int
	Appearances     int
	Blacklisted     bool
	BlacklistReason string
	Whitelisted     bool
	LastSeenAt      *time.Time
}

// SatisfactionRate computes positives/(positives+negatives), returning
// (0, false) when there is no data — it is never stored independently of
// the counts.
func (c ChunkQualityScore) SatisfactionRate() (float64, bool) {
	total := c.PositiveCount + c.NegativeCount
	if total == 0 {
		return 0, false
	}
	return float64(c.PositiveCount) / float64(total), true
}

// DocumentQualityScore is 1:1 with a document.
type DocumentQualityScore struct {
	DocumentID        uuid.UUID
	PositiveCount     int
	NegativeCount     int
	NeedsReingestion  bool
	ReingestionReason string
}

// SatisfactionRate mirrors ChunkQualityScore.SatisfactionRate.
func (d DocumentQualityScore) SatisfactionRate() (float64, bool) {
	total := d.PositiveCount + d.NegativeCount
	if total == 0 {
		return 0, false
	}
	return float64(d.PositiveCount) / float64(total), true
}

// RerankerSetting is the tri-state per-conversation override: nil inherits
// the global default, else true/false wins outright.
type RerankerSetting = *bool

// Conversation is an ordered sequence of messages with per-conversation
// retrieval settings.
type Conversation struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	UniverseID      *uuid.UUID
	Title           string
	HybridEnabled   *bool
	Alpha           *float64
	RerankerEnabled RerankerSetting
	Archived        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageRole enumerates chat roles.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// SourceSnapshot is a chunk id + scores frozen at answer time.
type SourceSnapshot struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Similarity float64   `json:"similarity"`
	BM25       float64   `json:"bm25,omitempty"`
	Combined   float64   `json:"combined,omitempty"`
}

// Message is one turn within a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           MessageRole
	Content        string
	Sources        []SourceSnapshot
	CreatedAt      time.Time
}

// Rating links a message to a user with a polarity and optional feedback.
type Rating struct {
	ID           uuid.UUID
	MessageID    uuid.UUID
	UserID       uuid.UUID
	Polarity     int
	Feedback     string
	IsCancelled  bool
	CancelledBy  *uuid.UUID
	CancelReason string
	CreatedAt    time.Time
}

// ThumbsDownClassification enumerates the four feedback-analyzer categories.
type ThumbsDownClassification string

const (
	ClassBadQuestion            ThumbsDownClassification = "bad_question"
	ClassBadAnswer               ThumbsDownClassification = "bad_answer"
	ClassMissingSources          ThumbsDownClassification = "missing_sources"
	ClassUnrealisticExpectations ThumbsDownClassification = "unrealistic_expectations"
)

// AdminAction enumerates the routing outcome for a thumbs-down validation.
type AdminAction string

const (
	ActionContactUser         AdminAction = "contact_user"
	ActionMarkForReingestion   AdminAction = "mark_for_reingestion"
	ActionIgnore               AdminAction = "ignore"
	ActionPending              AdminAction = "pending"
)

// ThumbsDownValidation is one per negative rating.
type ThumbsDownValidation struct {
	ID                          uuid.UUID
	RatingID                    uuid.UUID
	Question                    string
	Answer                      string
	Sources                     []SourceSnapshot
	Classification              ThumbsDownClassification
	Confidence                  float64
	Reasoning                   string
	SuggestedReformulation      string
	NeedsAdminReview            bool
	AdminOverrideClassification string
	AdminAction                 AdminAction
	ValidatorID                 *uuid.UUID
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// NotificationKind enumerates user notification types.
type NotificationKind string

const (
	NotificationQuestionImprovement NotificationKind = "question_improvement"
	NotificationReingestionNotice   NotificationKind = "reingestion_notice"
	NotificationGeneral             NotificationKind = "general"
)

// UserNotification is a pedagogical or informational message for a user.
type UserNotification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Kind      NotificationKind
	Message   string
	Read      bool
	CreatedAt time.Time
}

// JobStatus enumerates ingestion job lifecycle states.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IngestionJob references a stored file and tracks progress through the
// parse/chunk/embed/persist phases.
type IngestionJob struct {
	ID             uuid.UUID
	DocumentID     *uuid.UUID
	SourcePath     string
	OCREngine      string
	VLMEngine      string
	ChunkerVariant string
	UniverseID     *uuid.UUID
	Progress       int
	Status         JobStatus
	Error          string
	WorkerID       string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Template is a named prompt-rewriting instruction.
type Template struct {
	ID        uuid.UUID
	Name      string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FormattedResponse is the one-per-message output of the template formatter.
type FormattedResponse struct {
	ID           uuid.UUID
	MessageID    uuid.UUID
	TemplateName string
	Content      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProductUniverse is a tenancy boundary.
type ProductUniverse struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// UserUniverseAccess grants a user access to a universe.
type UserUniverseAccess struct {
	UserID     uuid.UUID
	UniverseID uuid.UUID
	GrantedAt  time.Time
}

// ScoredChunk is one row returned by the hybrid retrieval query, carrying
// both raw scores and structural metadata.
type ScoredChunk struct {
	Chunk
	VectorSimilarity float64
	BM25Score        float64
	Combined         float64
	RankVector       int
	RankKeyword      int
}
