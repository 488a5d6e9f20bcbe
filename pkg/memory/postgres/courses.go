package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/professorai/tutorcore/pkg/memory"
)

// CoursesImpl is the relational companion to [VectorsImpl]: it persists the
// course/module/topic skeleton produced by the PDF ingestion pipeline (C12).
//
// Obtain one via [Store.Courses] rather than constructing directly.
type CoursesImpl struct {
	pool *pgxpool.Pool
}

// CreateCourse implements [memory.CourseStore]. The course row and its full
// module/topic tree are inserted in a single transaction so a reader never
// observes a course with a partial tree.
func (c *CoursesImpl) CreateCourse(ctx context.Context, course memory.Course) (int, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("courses: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var courseID int
	err = tx.QueryRow(ctx,
		`INSERT INTO courses (number, title, description, level, teacher_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		course.Number, course.Title, course.Description, course.Level, course.TeacherID,
	).Scan(&courseID)
	if err != nil {
		return 0, fmt.Errorf("courses: insert course: %w", err)
	}

	for _, mod := range course.Modules {
		var moduleID int
		err = tx.QueryRow(ctx,
			`INSERT INTO modules (course_id, week, title) VALUES ($1, $2, $3) RETURNING id`,
			courseID, mod.Week, mod.Title,
		).Scan(&moduleID)
		if err != nil {
			return 0, fmt.Errorf("courses: insert module %q: %w", mod.Title, err)
		}

		for _, topic := range mod.Topics {
			if _, err := tx.Exec(ctx,
				`INSERT INTO topics (module_id, title, content, order_index) VALUES ($1, $2, $3, $4)`,
				moduleID, topic.Title, topic.Content, topic.OrderIndex,
			); err != nil {
				return 0, fmt.Errorf("courses: insert topic %q: %w", topic.Title, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("courses: commit: %w", err)
	}
	return courseID, nil
}

// DeleteCourse implements [memory.CourseStore]. ON DELETE CASCADE on modules
// and topics means a single DELETE on courses clears the whole tree.
func (c *CoursesImpl) DeleteCourse(ctx context.Context, courseID int) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, courseID); err != nil {
		return fmt.Errorf("courses: delete %d: %w", courseID, err)
	}
	return nil
}

// GetCourse implements [memory.CourseStore].
func (c *CoursesImpl) GetCourse(ctx context.Context, courseID int) (*memory.Course, error) {
	course := &memory.Course{ID: courseID}
	err := c.pool.QueryRow(ctx,
		`SELECT number, title, description, level, teacher_id FROM courses WHERE id = $1`,
		courseID,
	).Scan(&course.Number, &course.Title, &course.Description, &course.Level, &course.TeacherID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("courses: get %d: %w", courseID, err)
	}

	rows, err := c.pool.Query(ctx,
		`SELECT id, week, title FROM modules WHERE course_id = $1 ORDER BY week`, courseID)
	if err != nil {
		return nil, fmt.Errorf("courses: list modules for %d: %w", courseID, err)
	}
	defer rows.Close()

	type moduleRow struct {
		id  int
		mod memory.Module
	}
	var moduleRows []moduleRow
	for rows.Next() {
		var mr moduleRow
		if err := rows.Scan(&mr.id, &mr.mod.Week, &mr.mod.Title); err != nil {
			return nil, fmt.Errorf("courses: scan module: %w", err)
		}
		moduleRows = append(moduleRows, mr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courses: iterate modules: %w", err)
	}

	for i := range moduleRows {
		topicRows, err := c.pool.Query(ctx,
			`SELECT title, content, order_index FROM topics WHERE module_id = $1 ORDER BY order_index`,
			moduleRows[i].id)
		if err != nil {
			return nil, fmt.Errorf("courses: list topics for module %d: %w", moduleRows[i].id, err)
		}
		for topicRows.Next() {
			var topic memory.Topic
			if err := topicRows.Scan(&topic.Title, &topic.Content, &topic.OrderIndex); err != nil {
				topicRows.Close()
				return nil, fmt.Errorf("courses: scan topic: %w", err)
			}
			moduleRows[i].mod.Topics = append(moduleRows[i].mod.Topics, topic)
		}
		err = topicRows.Err()
		topicRows.Close()
		if err != nil {
			return nil, fmt.Errorf("courses: iterate topics: %w", err)
		}
		course.Modules = append(course.Modules, moduleRows[i].mod)
	}

	return course, nil
}
