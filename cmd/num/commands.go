package num

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/lib/numservice"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"github.com/spf13/cobra"
	"strconv"
)

var (
	addCmd = &cobra.Command{
		Use:   "add [a] [b]",
		Short: "Adds two numbers on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return calculate(cmd, numservice.AddMethod, "+", args)
		},
	}
	minusCmd = &cobra.Command{
		Use:   "minus [a] [b]",
		Short: "Subtracts two numbers on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return calculate(cmd, numservice.MinusMethod, "-", args)
		},
	}
)

func init() {
	addCmd.Flags().Bool("async", false, "Wait for the result with a completion callback instead of a blocking call")
	minusCmd.Flags().Bool("async", false, "Wait for the result with a completion callback instead of a blocking call")
}

// calculate parses the operands, calls md and prints the result
func calculate(cmd *cobra.Command, md *service.MethodDescriptor, op string, args []string) error {
	a, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("a must be a number: %w", err)
	}
	b, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("b must be a number: %w", err)
	}

	req := &numservice.NumRequest{Input1: a, Input2: b}
	resp := &numservice.NumResponse{}

	async, _ := cmd.Flags().GetBool("async")
	if async {
		ctrl := common.NewController()
		done := make(chan struct{})
		rpcChannel.CallMethod(md, ctrl, req, resp, func() {
			close(done)
		})
		<-done
		err = ctrl.Err()
	} else {
		err = rpcChannel.Call(md, req, resp)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%d %s %d = %d\n", a, op, b, resp.Output)
	return nil
}
