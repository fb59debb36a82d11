// Package roles maps IMS role URIs from a launch into an ordered internal
// role set and exposes the capability checks used to gate API access.
package roles

// Role is the internal role level. Higher values grant strictly more.
type Role int

const (
	General Role = iota
	Learner
	Instructor
	Admin
)

func (r Role) String() string {
	switch r {
	case Admin:
		return "admin"
	case Instructor:
		return "instructor"
	case Learner:
		return "learner"
	default:
		return "general"
	}
}

// Fixed vocabulary of recognized role URIs. Unknown strings are ignored,
// neither granted nor rejected.
const (
	uriSystemAdmin        = "http://purl.imsglobal.org/vocab/lis/v2/system/person#Administrator"
	uriInstitutionAdmin   = "http://purl.imsglobal.org/vocab/lis/v2/institution/person#Administrator"
	uriInstitutionStudent = "http://purl.imsglobal.org/vocab/lis/v2/institution/person#Student"
	uriInstitutionLearner = "http://purl.imsglobal.org/vocab/lis/v2/institution/person#Learner"
	uriInstitutionTeacher = "http://purl.imsglobal.org/vocab/lis/v2/institution/person#Instructor"
	uriMembershipLearner  = "http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"
	uriMembershipTeacher  = "http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"
	uriInstitutionGeneral = "http://purl.imsglobal.org/vocab/lis/v2/institution/person#None"
)

var roleByURI = map[string]Role{
	uriSystemAdmin:        Admin,
	uriInstitutionAdmin:   Admin,
	uriInstitutionTeacher: Instructor,
	uriMembershipTeacher:  Instructor,
	uriInstitutionStudent: Learner,
	uriInstitutionLearner: Learner,
	uriMembershipLearner:  Learner,
	uriInstitutionGeneral: General,
}

// Resolver answers capability checks for one launch's role list.
type Resolver struct {
	granted map[Role]bool
}

// New builds a Resolver from raw role URIs; unknown URIs are skipped.
func New(uris []string) *Resolver {
	granted := make(map[Role]bool, 4)
	for _, u := range uris {
		if role, ok := roleByURI[u]; ok {
			granted[role] = true
		}
	}
	return &Resolver{granted: granted}
}

func (r *Resolver) IsAdmin() bool      { return r.granted[Admin] }
func (r *Resolver) IsInstructor() bool { return r.granted[Instructor] }
func (r *Resolver) IsLearner() bool    { return r.granted[Learner] }
func (r *Resolver) IsGeneral() bool    { return r.granted[General] }

func (r *Resolver) IsInstructorOrHigher() bool { return r.IsInstructor() || r.IsAdmin() }
func (r *Resolver) IsLearnerOrHigher() bool    { return r.IsLearner() || r.IsInstructorOrHigher() }
