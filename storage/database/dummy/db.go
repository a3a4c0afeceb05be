package dummydb

import (
	"sync"

	"github.com/studylink/academy/core/calendar"
	"github.com/studylink/academy/core/course"
	"github.com/studylink/academy/core/exam"
	"github.com/studylink/academy/core/user"
)

type (
	DB struct {
		user     *userTable
		academy  *academyTables
		course   *courseTable
		exam     *examTables
		calendar *calendarTable
	}

	userTable struct {
		sync.RWMutex
		table   map[int]*user.User
		pkCount int
	}

	academyTables struct {
		sync.RWMutex
		data *academyData
	}

	courseTable struct {
		sync.RWMutex
		table   map[int]course.Course
		pkCount int
	}

	examTables struct {
		sync.RWMutex
		tests         map[int]exam.Test
		questions     map[int]exam.Question
		submissions   map[int]exam.Submission
		testSeq       int
		questionSeq   int
		submissionSeq int
	}

	calendarTable struct {
		sync.RWMutex
		table   map[int]calendar.Event
		pkCount int
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[int]*user.User)},
		academy: &academyTables{data: newAcademyData()},
		course:  &courseTable{table: make(map[int]course.Course)},
		exam: &examTables{
			tests:       make(map[int]exam.Test),
			questions:   make(map[int]exam.Question),
			submissions: make(map[int]exam.Submission),
		},
		calendar: &calendarTable{table: make(map[int]calendar.Event)},
	}
	return db, nil
}
