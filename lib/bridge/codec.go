package bridge

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/sdkloader.go/lib/command"
)

// Service names understood by an adapter process.
const (
	ServiceConstruct          = "construct"
	ServiceCheckConnection    = "check_connection"
	ServiceCheckout           = "checkout"
	ServiceLatestModification = "latest_modification"
	ServiceModificationsSince = "modifications_since"
)

const (
	fieldSymbol        = "symbol"
	fieldFingerprint   = "fingerprint"
	fieldURL           = "url"
	fieldDomain        = "domain"
	fieldUsername      = "username"
	fieldPassword      = "password"
	fieldWorkspace     = "workspace"
	fieldProjectPath   = "project_path"
	fieldInstance      = "instance"
	fieldWorkDir       = "work_dir"
	fieldRevision      = "revision"
	fieldModifications = "modifications"
)

func encodeConstruct(symbol string, req command.Request) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldSymbol:      structpb.NewStringValue(symbol),
		fieldFingerprint: structpb.NewStringValue(req.Fingerprint),
		fieldDomain:      structpb.NewStringValue(req.Domain),
		fieldUsername:    structpb.NewStringValue(req.Username),
		fieldPassword:    structpb.NewStringValue(req.Password),
		fieldWorkspace:   structpb.NewStringValue(req.Workspace),
		fieldProjectPath: structpb.NewStringValue(req.ProjectPath),
	}
	if req.URL != nil {
		fields[fieldURL] = structpb.NewStringValue(req.URL.Original())
	}
	return &structpb.Struct{Fields: fields}
}

func decodeConstruct(s *structpb.Struct) (string, command.Request) {
	req := command.Request{
		Fingerprint: stringField(s, fieldFingerprint),
		Domain:      stringField(s, fieldDomain),
		Username:    stringField(s, fieldUsername),
		Password:    stringField(s, fieldPassword),
		Workspace:   stringField(s, fieldWorkspace),
		ProjectPath: stringField(s, fieldProjectPath),
	}
	if _, ok := s.GetFields()[fieldURL]; ok {
		req.URL = command.NewURLArgument(stringField(s, fieldURL))
	}
	return stringField(s, fieldSymbol), req
}

func encodeOperation(instance, workDir, revision string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldInstance: structpb.NewStringValue(instance),
		fieldWorkDir:  structpb.NewStringValue(workDir),
		fieldRevision: structpb.NewStringValue(revision),
	}}
}

func encodeModifications(mods []command.Modification) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(mods))
	for _, m := range mods {
		files := make([]*structpb.Value, 0, len(m.Files))
		for _, f := range m.Files {
			files = append(files, structpb.NewStringValue(f))
		}
		values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"revision":      structpb.NewStringValue(m.Revision),
			"user":          structpb.NewStringValue(m.User),
			"comment":       structpb.NewStringValue(m.Comment),
			"modified_time": structpb.NewStringValue(m.ModifiedTime.UTC().Format(time.RFC3339Nano)),
			"files":         structpb.NewListValue(&structpb.ListValue{Values: files}),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldModifications: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

func decodeModifications(s *structpb.Struct) ([]command.Modification, error) {
	list := s.GetFields()[fieldModifications].GetListValue().GetValues()
	mods := make([]command.Modification, 0, len(list))
	for i, v := range list {
		entry := v.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("modification %d is not an object", i)
		}

		modified, err := time.Parse(time.RFC3339Nano, stringField(entry, "modified_time"))
		if err != nil {
			return nil, fmt.Errorf("modification %d has invalid time: %w", i, err)
		}

		var files []string
		for _, f := range entry.GetFields()["files"].GetListValue().GetValues() {
			files = append(files, f.GetStringValue())
		}

		mods = append(mods, command.Modification{
			Revision:     stringField(entry, "revision"),
			User:         stringField(entry, "user"),
			Comment:      stringField(entry, "comment"),
			ModifiedTime: modified,
			Files:        files,
		})
	}
	return mods, nil
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}
