package service

import (
	"fmt"

	"google.golang.org/genproto/googleapis/api/annotations"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	QueryServiceName = "recordquery.v1.QueryService"

	CompileProcedure = "/" + QueryServiceName + "/Compile"
	RefreshProcedure = "/" + QueryServiceName + "/Refresh"
)

// queryServiceSchema describes QueryService. Both methods exchange
// google.protobuf.Struct documents, so no generated code is involved.
var queryServiceSchema = mustServiceSchema()

func httpPost(path string) *descriptorpb.MethodOptions {
	opts := &descriptorpb.MethodOptions{}
	proto.SetExtension(opts, annotations.E_Http, &annotations.HttpRule{
		Pattern: &annotations.HttpRule_Post{Post: path},
		Body:    "*",
	})
	return opts
}

func structMethod(name, path string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(".google.protobuf.Struct"),
		OutputType: proto.String(".google.protobuf.Struct"),
		Options:    httpPost(path),
	}
}

func serviceSchema() (protoreflect.ServiceDescriptor, error) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("recordquery/v1/query.proto"),
		Package: proto.String("recordquery.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/api/annotations.proto",
			"google/protobuf/struct.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("QueryService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				structMethod("Compile", "/v1/compile"),
				structMethod("Refresh", "/v1/refresh"),
			},
		}},
	}
	file, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build query service descriptor: %w", err)
	}
	svc := file.Services().ByName("QueryService")
	if svc == nil {
		return nil, fmt.Errorf("query service descriptor missing")
	}
	return svc, nil
}

func mustServiceSchema() protoreflect.ServiceDescriptor {
	svc, err := serviceSchema()
	if err != nil {
		panic(err)
	}
	return svc
}
