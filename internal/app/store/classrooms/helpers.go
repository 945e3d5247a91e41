package classroomstore

import "strconv"

// positional returns the dotted path prefix of the seat at index i.
func positional(i int) string {
	return "students." + strconv.Itoa(i) + "."
}
