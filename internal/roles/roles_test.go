package roles_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/classbridge/classbridge-tool/internal/roles"
)

func TestInstructorLaunch(t *testing.T) {
	r := roles.New([]string{
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor",
	})
	require.True(t, r.IsInstructor())
	require.True(t, r.IsInstructorOrHigher())
	require.True(t, r.IsLearnerOrHigher())
	require.False(t, r.IsAdmin())
	require.False(t, r.IsLearner())
}

func TestAdminOutranksEveryone(t *testing.T) {
	r := roles.New([]string{
		"http://purl.imsglobal.org/vocab/lis/v2/system/person#Administrator",
	})
	require.True(t, r.IsAdmin())
	require.True(t, r.IsInstructorOrHigher())
	require.True(t, r.IsLearnerOrHigher())
	require.False(t, r.IsInstructor())
}

func TestLearnerVariantsAllMapToLearner(t *testing.T) {
	for _, uri := range []string{
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner",
		"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Student",
		"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Learner",
	} {
		r := roles.New([]string{uri})
		require.True(t, r.IsLearner(), uri)
		require.False(t, r.IsInstructorOrHigher(), uri)
	}
}

func TestUnknownURIsAreIgnored(t *testing.T) {
	r := roles.New([]string{
		"http://example.com/roles#Wizard",
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner",
	})
	require.True(t, r.IsLearner())
	require.False(t, r.IsAdmin())
	require.False(t, r.IsInstructor())
}

func TestEmptyRoleList(t *testing.T) {
	r := roles.New(nil)
	require.False(t, r.IsLearnerOrHigher())
	require.False(t, r.IsGeneral())
}

func TestMultipleRolesKeepHighest(t *testing.T) {
	r := roles.New([]string{
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner",
		"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Administrator",
	})
	require.True(t, r.IsAdmin())
	require.True(t, r.IsLearner())
	require.True(t, r.IsInstructorOrHigher())
}

func TestRoleString(t *testing.T) {
	require.Equal(t, "admin", roles.Admin.String())
	require.Equal(t, "instructor", roles.Instructor.String())
	require.Equal(t, "learner", roles.Learner.String())
	require.Equal(t, "general", roles.General.String())
}
