// Command pricecalc prices distances against a policy file without a database.
//
//	pricecalc -policy policy.yaml -mode bonus 3 5.3 12
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"courierops/api/internal/pricing"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("pricecalc: ")

	policyPath := flag.String("policy", "", "path to a YAML policy file")
	mode := flag.String("mode", string(pricing.ModeDelivery), "delivery or bonus")
	flag.Parse()

	if *policyPath == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: pricecalc -policy file.yaml [-mode delivery|bonus] distance...")
		os.Exit(2)
	}
	if err := run(os.Stdout, *policyPath, *mode, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(out io.Writer, policyPath, modeName string, distances []string) error {
	policy, err := pricing.LoadPolicyFile(policyPath)
	if err != nil {
		return err
	}
	mode, err := pricing.ParseMode(modeName)
	if err != nil {
		return err
	}
	for _, arg := range distances {
		d, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("distance %q: %w", arg, err)
		}
		price, err := pricing.Calculate(d, policy, mode)
		if err != nil {
			return fmt.Errorf("distance %s: %w", arg, err)
		}
		fmt.Fprintf(out, "%s\t%s\n", arg, strconv.FormatFloat(price, 'f', -1, 64))
	}
	return nil
}
