package memory

import "context"

// Topic is one content unit within a Module, as produced by the PDF
// ingestion pipeline's course-skeleton generation step (C12).
type Topic struct {
	// Title is the topic heading.
	Title string

	// Content is the topic's body text.
	Content string

	// OrderIndex orders topics within their parent module.
	OrderIndex int
}

// Module is one week of a Course, containing an ordered list of Topics.
type Module struct {
	// Week is the module's week index, starting at 1.
	Week int

	// Title is the module heading.
	Title string

	// Topics are this module's content units, in OrderIndex order.
	Topics []Topic
}

// Course is the relational record for one ingested course. The vector store
// (C2) holds derived ChunkRecords only; Course, Module, and Topic rows live
// in the same durable backend as Session/Message (C4).
type Course struct {
	// ID is the course's integer primary key, assigned on creation.
	ID int

	// Number is a human-facing course code (e.g. "CS101").
	Number string

	// Title is the course name.
	Title string

	// Description is a short summary of the course.
	Description string

	// Level is a coarse difficulty label (e.g. "introductory", "advanced").
	Level string

	// TeacherID identifies the owning teacher user.
	TeacherID string

	// Modules is the course's week-by-week content tree.
	Modules []Module
}

// CourseStore persists the relational course skeleton produced by the PDF
// ingestion pipeline (C12). It is a thin companion to [VectorStore]: C12
// writes the tree here and the derived chunks to the vector store
// separately, and reports success only once both are durable.
type CourseStore interface {
	// CreateCourse inserts course and its full module/topic tree in one
	// transaction, assigning and returning the new course ID.
	CreateCourse(ctx context.Context, course Course) (int, error)

	// DeleteCourse removes course courseID and its modules/topics. Used to
	// roll back a partially-ingested course when a later ingestion stage
	// fails. Deleting an unknown courseID is not an error.
	DeleteCourse(ctx context.Context, courseID int) error

	// GetCourse returns the full course tree for courseID, or (nil, nil) if
	// no such course exists.
	GetCourse(ctx context.Context, courseID int) (*Course, error)
}
